// portwatchctl is the operator CLI for portwatchd's control API: rule
// and alert management plus a one-shot status check, in the pack's
// cobra+viper CLI idiom.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/serome111/portwatch/internal/model"
)

var (
	daemonAddr string
	authToken  string
)

var rootCmd = &cobra.Command{
	Use:           "portwatchctl",
	Short:         "Control client for portwatchd",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "http://127.0.0.1:7331", "portwatchd control API address")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "control API bearer token (or $PORTWATCHCTL_TOKEN)")
	viper.BindPFlag("addr", rootCmd.PersistentFlags().Lookup("addr"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.AddCommand(statusCmd, rulesCmd, alertsCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesRemoveCmd)
	alertsCmd.AddCommand(alertsListCmd, alertsDecideCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PORTWATCHCTL")
	viper.AutomaticEnv()
	if daemonAddr == "" {
		daemonAddr = viper.GetString("addr")
	}
	if authToken == "" {
		authToken = viper.GetString("token")
	}
}

type apiClient struct {
	addr  string
	token string
	http  *http.Client
}

func client() *apiClient {
	return &apiClient{addr: daemonAddr, token: authToken, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}

	req, err := http.NewRequest(method, c.addr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status map[string]interface{}
		if err := client().do(http.MethodGet, "/status", nil, &status); err != nil {
			return err
		}
		for k, v := range status {
			fmt.Printf("%-20s %v\n", k, v)
		}
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage persisted rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []model.Rule
		if err := client().do(http.MethodGet, "/rules", nil, &list); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROCESS\tDESTINATION\tACTION\tSCOPE\tENABLED")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n", r.ID, r.Process, r.Destination, r.Action, r.Scope, r.Enabled)
		}
		return w.Flush()
	},
}

var (
	ruleAddProcess     string
	ruleAddDestination string
	ruleAddPort        int
	ruleAddAction      string
	ruleAddScope       string
	ruleAddComment     string
)

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a new rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		rule := model.Rule{
			Process:     ruleAddProcess,
			Destination: ruleAddDestination,
			Action:      model.Action(ruleAddAction),
			Scope:       model.Scope(ruleAddScope),
			Protocol:    model.ProtocolTCP,
			UserComment: ruleAddComment,
		}
		if ruleAddPort != 0 {
			rule.Port = &ruleAddPort
		}
		var created model.Rule
		if err := client().do(http.MethodPost, "/rules", rule, &created); err != nil {
			return err
		}
		fmt.Println("created rule", created.ID)
		return nil
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Delete a rule by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().do(http.MethodDelete, "/rules/"+args[0], nil, nil)
	},
}

func init() {
	rulesAddCmd.Flags().StringVar(&ruleAddProcess, "process", "", "process name to match (required)")
	rulesAddCmd.Flags().StringVar(&ruleAddDestination, "destination", "", "destination address to match (required)")
	rulesAddCmd.Flags().IntVar(&ruleAddPort, "port", 0, "destination port to match (0 matches any port)")
	rulesAddCmd.Flags().StringVar(&ruleAddAction, "action", string(model.ActionDeny), "allow or deny")
	rulesAddCmd.Flags().StringVar(&ruleAddScope, "scope", string(model.ScopeAlways), "once, always, or temporary")
	rulesAddCmd.Flags().StringVar(&ruleAddComment, "comment", "", "operator comment stored with the rule")
	rulesAddCmd.MarkFlagRequired("process")
	rulesAddCmd.MarkFlagRequired("destination")
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage pending alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []model.PendingAlert
		if err := client().do(http.MethodGet, "/alerts/pending", nil, &list); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROCESS\tDESTINATION\tLEVEL\tCOUNT")
		for _, a := range list {
			fmt.Fprintf(w, "%s\t%s\t%s:%d\t%s\t%d\n",
				a.ID, a.Connection.ProcessName, a.Connection.Remote.Addr, a.Connection.Remote.Port, a.Connection.Level, a.Count)
		}
		return w.Flush()
	},
}

var (
	alertDecideAction  string
	alertDecideScope   string
	alertDecideComment string
)

var alertsDecideCmd = &cobra.Command{
	Use:   "decide [id]",
	Short: "Resolve a pending alert with an allow/deny decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{
			"action":  alertDecideAction,
			"scope":   alertDecideScope,
			"comment": alertDecideComment,
		}
		return client().do(http.MethodPost, "/alerts/"+args[0]+"/decide", body, nil)
	},
}

func init() {
	alertsDecideCmd.Flags().StringVar(&alertDecideAction, "action", string(model.ActionAllow), "allow or deny")
	alertsDecideCmd.Flags().StringVar(&alertDecideScope, "scope", string(model.ScopeOnce), "once, always, or temporary")
	alertsDecideCmd.Flags().StringVar(&alertDecideComment, "comment", "", "operator comment stored with the decision")
}
