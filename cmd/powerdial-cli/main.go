package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	apiHost  string
	apiToken string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "powerdial-cli",
		Short: "CLI for the powerdial orchestration service",
		Long:  `Command line tool to drive outbound calling campaigns remotely.`,
	}

	rootCmd.PersistentFlags().StringVar(&apiHost, "host", "http://localhost:8080", "API base URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("POWERDIAL_TOKEN"), "API bearer token")

	// === LOGIN ===
	var loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Obtain an API token",
		Run:   runLogin,
	}
	loginCmd.Flags().String("user", "", "Username (required)")
	loginCmd.Flags().String("pass", "", "Password (required)")

	// === CAMPAIGN ===
	var campaignCmd = &cobra.Command{
		Use:   "campaign",
		Short: "Manage campaign runs",
	}

	var campaignStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start a campaign from a contacts JSON file",
		Run:   runCampaignStart,
	}
	campaignStartCmd.Flags().String("contacts", "", "Path to contacts JSON file (required)")
	campaignStartCmd.Flags().String("mode", "single", "Dialing mode: single, parallel, advanced")

	var campaignStopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the active campaign",
		Run:   runCampaignStop,
	}

	var campaignStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show engine state for the active campaign",
		Run:   runCampaignStatus,
	}

	var campaignContinueCmd = &cobra.Command{
		Use:   "continue",
		Short: "Advance to the next batch",
		Run:   runCampaignContinue,
	}

	campaignCmd.AddCommand(campaignStartCmd, campaignStopCmd, campaignStatusCmd, campaignContinueCmd)

	// === CALL ===
	var callCmd = &cobra.Command{
		Use:   "call",
		Short: "Place a one-off call",
		Run:   runCall,
	}
	callCmd.Flags().String("number", "", "Destination number (required)")

	// === DISPOSITION ===
	var dispositionCmd = &cobra.Command{
		Use:   "disposition",
		Short: "Record a disposition for a contact",
		Run:   runDisposition,
	}
	dispositionCmd.Flags().String("contact", "", "Contact ID (required)")
	dispositionCmd.Flags().String("attempt", "", "Attempt ID")
	dispositionCmd.Flags().String("result", "", "Disposition result (required)")
	dispositionCmd.Flags().String("notes", "", "Free-form notes")

	// === ATTEMPTS ===
	var attemptsCmd = &cobra.Command{
		Use:   "attempts",
		Short: "List recent call attempts",
		Run:   runAttempts,
	}
	attemptsCmd.Flags().Int("limit", 20, "Rows to list")

	rootCmd.AddCommand(loginCmd, campaignCmd, callCmd, dispositionCmd, attemptsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runLogin(cmd *cobra.Command, args []string) {
	user := getString(cmd, "user")
	pass := getString(cmd, "pass")
	if user == "" || pass == "" {
		fmt.Println("Error: --user and --pass are required")
		return
	}

	body := map[string]string{"username": user, "password": pass}
	resp, err := post(fmt.Sprintf("%s/api/v1/login", apiHost), body)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(resp)
}

func runCampaignStart(cmd *cobra.Command, args []string) {
	path := getString(cmd, "contacts")
	if path == "" {
		fmt.Println("Error: --contacts is required")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Error reading contacts file: %v\n", err)
		return
	}

	var contacts []map[string]interface{}
	if err := json.Unmarshal(data, &contacts); err != nil {
		fmt.Printf("Error parsing contacts file: %v\n", err)
		return
	}

	body := map[string]interface{}{
		"mode":     getString(cmd, "mode"),
		"contacts": contacts,
	}
	resp, err := post(fmt.Sprintf("%s/api/v1/campaign/start", apiHost), body)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(resp)
}

func runCampaignStop(cmd *cobra.Command, args []string) {
	resp, err := post(fmt.Sprintf("%s/api/v1/campaign/stop", apiHost), struct{}{})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(resp)
}

func runCampaignContinue(cmd *cobra.Command, args []string) {
	resp, err := post(fmt.Sprintf("%s/api/v1/campaign/continue", apiHost), struct{}{})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(resp)
}

func runCampaignStatus(cmd *cobra.Command, args []string) {
	var snap struct {
		Run      string `json:"run"`
		Active   bool   `json:"active"`
		Finished bool   `json:"finished"`
		GateOpen bool   `json:"gateOpen"`
		Mode     string `json:"mode"`
		Cursor   int    `json:"cursor"`
		Total    int    `json:"total"`
		Ringing  []struct {
			ID     string `json:"id"`
			Number string `json:"number"`
			Name   string `json:"name"`
		} `json:"ringing"`
		Answered *struct {
			ID     string `json:"id"`
			Number string `json:"number"`
			Name   string `json:"name"`
		} `json:"answered"`
		AnonymousAnswered bool `json:"anonymousAnswered"`
		Pending           []struct {
			ID     string `json:"id"`
			Number string `json:"number"`
			Name   string `json:"name"`
		} `json:"pending"`
	}

	if err := get(fmt.Sprintf("%s/api/v1/campaign/status", apiHost), &snap); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Run:       %s\n", snap.Run)
	fmt.Printf("Active:    %v  Finished: %v  Gate open: %v\n", snap.Active, snap.Finished, snap.GateOpen)
	fmt.Printf("Mode:      %s  Progress: %d/%d\n", snap.Mode, snap.Cursor, snap.Total)
	if snap.Answered != nil {
		fmt.Printf("Answered:  %s (%s)\n", snap.Answered.Name, snap.Answered.Number)
	} else if snap.AnonymousAnswered {
		fmt.Println("Answered:  (anonymous leg)")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "STATE\tID\tNUMBER\tNAME")
	for _, c := range snap.Ringing {
		fmt.Fprintf(w, "ringing\t%s\t%s\t%s\n", c.ID, c.Number, c.Name)
	}
	for _, c := range snap.Pending {
		fmt.Fprintf(w, "pending\t%s\t%s\t%s\n", c.ID, c.Number, c.Name)
	}
	w.Flush()
}

func runCall(cmd *cobra.Command, args []string) {
	number := getString(cmd, "number")
	if number == "" {
		fmt.Println("Error: --number is required")
		return
	}

	resp, err := post(fmt.Sprintf("%s/api/v1/call", apiHost), map[string]string{"number": number})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(resp)
}

func runDisposition(cmd *cobra.Command, args []string) {
	contact := getString(cmd, "contact")
	result := getString(cmd, "result")
	if contact == "" || result == "" {
		fmt.Println("Error: --contact and --result are required")
		return
	}

	body := map[string]string{
		"contactId": contact,
		"attemptId": getString(cmd, "attempt"),
		"result":    result,
		"notes":     getString(cmd, "notes"),
	}
	resp, err := post(fmt.Sprintf("%s/api/v1/dispositions", apiHost), body)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(resp)
}

func runAttempts(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	var attempts []struct {
		AttemptID   string `json:"attempt_id"`
		ContactID   string `json:"contact_id"`
		Number      string `json:"number"`
		Name        string `json:"name"`
		Status      string `json:"status"`
		Detail      string `json:"detail"`
		Disposition string `json:"disposition"`
	}
	if err := get(fmt.Sprintf("%s/api/v1/attempts?limit=%d", apiHost, limit), &attempts); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ATTEMPT\tCONTACT\tNUMBER\tSTATUS\tDETAIL\tDISPOSITION")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", a.AttemptID, a.ContactID, a.Number, a.Status, a.Detail, a.Disposition)
	}
	w.Flush()
}

// Helpers

func getString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func post(url string, data interface{}) (string, error) {
	payload, _ := json.Marshal(data)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("API error (%s): %s", resp.Status, string(body))
	}
	return string(bytes.TrimSpace(body)), nil
}

func get(url string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (%s): %s", resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
