package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/attestia/attestia/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	apiKey    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "attestia",
	Short: "Attestia accountability ledger CLI",
	Long: `attestia is the command-line interface for an Attestia ledger.

It submits entries to the hash-chained ledger, verifies their integrity,
exports snapshots, and manages accountability node registrations.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".attestia"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if apiKey == "" {
			apiKey = viper.GetString("api_key")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.attestia/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledger server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "node API key for entry submission")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(anchorCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(operatorTokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client carrying whatever credentials are on hand:
// the node API key flag and any session token saved by a previous login.
func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	if tok := loadToken(); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	return client.New(serverURL, opts...)
}

func tokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".attestia", "token")
}

func loadToken() string {
	p := tokenPath()
	if p == "" {
		return ""
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func saveToken(token string) error {
	p := tokenPath()
	if p == "" {
		return errors.New("cannot determine home directory")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(token+"\n"), 0o600)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── submit ───────────────────────────────────────────────────────────────────

var (
	submitPayload     string
	submitPayloadFile string
	submitSignature   string
)

var submitCmd = &cobra.Command{
	Use:   "submit <entry-type>",
	Short: "Append a new entry to the ledger",
	Long: `Submit appends an entry of the given type to the hash chain.

The payload is JSON, read from --payload, --payload-file, or stdin:

  attestia submit compliance_event --payload '{"check":"soc2-cc1.1","result":"pass"}'
  cat report.json | attestia submit incident_report

Node submissions authenticate with --api-key (or api_key in the config
file); operator sessions from 'attestia login' may submit as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readPayload()
		if err != nil {
			return err
		}
		var payload json.RawMessage
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		result, err := c.SubmitEntry(context.Background(), args[0], payload, submitSignature)
		if err != nil {
			return err
		}
		fmt.Printf("Entry:    %s\n", result.ID)
		fmt.Printf("Block:    %d\n", result.BlockNumber)
		fmt.Printf("Hash:     %s\n", result.Hash)
		fmt.Printf("Verified: %t\n", result.Verified)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitPayload, "payload", "", "JSON payload")
	submitCmd.Flags().StringVar(&submitPayloadFile, "payload-file", "", "read JSON payload from file")
	submitCmd.Flags().StringVar(&submitSignature, "signature", "", "base64 Ed25519 signature over the canonical payload")
}

func readPayload() ([]byte, error) {
	switch {
	case submitPayload != "" && submitPayloadFile != "":
		return nil, errors.New("--payload and --payload-file are mutually exclusive")
	case submitPayload != "":
		return []byte(submitPayload), nil
	case submitPayloadFile != "":
		return os.ReadFile(submitPayloadFile)
	default:
		stat, err := os.Stdin.Stat()
		if err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
			return io.ReadAll(os.Stdin)
		}
		return nil, errors.New("no payload: use --payload, --payload-file, or pipe JSON on stdin")
	}
}

// ── status / get ─────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the chain summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		o, err := c.Overview(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Entries:   %d\n", o.Entries)
		if o.Entries > 0 {
			fmt.Printf("Tip block: %d\n", o.TipBlock)
			fmt.Printf("Tip hash:  %s\n", o.TipHash)
		}
		if o.Checkpoint != nil {
			fmt.Printf("Anchored:  %s (%d blocks, root %s)\n",
				o.Checkpoint.ComputedAt.Format(time.RFC3339),
				o.Checkpoint.BlockCount,
				o.Checkpoint.RootHash,
			)
		} else {
			fmt.Println("Anchored:  never")
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <block-number | entry-id>",
	Short: "Fetch a single entry by block number or UUID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		ctx := context.Background()
		var e *client.Entry
		if block, convErr := strconv.ParseInt(args[0], 10, 64); convErr == nil {
			e, err = c.GetEntryByBlock(ctx, block)
		} else {
			e, err = c.GetEntryByID(ctx, args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(e)
	},
}

// ── verify / audit ───────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <entry-id>",
	Short: "Recompute one entry's digest and check its chain link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		r, err := c.VerifyEntry(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Block:         %d\n", r.BlockNumber)
		fmt.Printf("Stored hash:   %s\n", r.StoredHash)
		fmt.Printf("Computed hash: %s\n", r.ComputedHash)
		fmt.Printf("Hash valid:    %t\n", r.HashValid)
		fmt.Printf("Chain valid:   %t\n", r.ChainValid)
		if r.OverallValid {
			fmt.Println("Result:        OK")
			return nil
		}
		fmt.Println("Result:        TAMPERED")
		os.Exit(1)
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Replay the full chain from genesis and report its integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		r, err := c.Audit(context.Background())
		if err != nil {
			return err
		}
		if r.Valid {
			fmt.Println("chain OK")
			return nil
		}
		fmt.Printf("chain INVALID: %s\n", r.Error)
		os.Exit(1)
		return nil
	},
}

// ── export / anchor / checkpoints ────────────────────────────────────────────

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download a ledger snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		out := os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		if err := c.Export(context.Background(), exportFormat, out); err != nil {
			return err
		}
		if exportOut != "" {
			fmt.Fprintf(os.Stderr, "wrote %s\n", exportOut)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "snapshot format: json or csv")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "write to file instead of stdout")
}

var anchorCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Compute and store a root checkpoint over the verified chain (operator)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		cp, err := c.Anchor(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Root hash:   %s\n", cp.RootHash)
		fmt.Printf("Block count: %d\n", cp.BlockCount)
		fmt.Printf("Computed at: %s\n", cp.ComputedAt.Format(time.RFC3339))
		return nil
	},
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List checkpoint history",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		cps, err := c.Checkpoints(context.Background())
		if err != nil {
			return err
		}
		if len(cps) == 0 {
			fmt.Println("no checkpoints yet")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COMPUTED AT\tBLOCKS\tROOT HASH")
		for _, cp := range cps {
			fmt.Fprintf(w, "%s\t%d\t%s\n", cp.ComputedAt.Format(time.RFC3339), cp.BlockCount, cp.RootHash)
		}
		return w.Flush()
	},
}

// ── node ─────────────────────────────────────────────────────────────────────

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage accountability node registrations",
}

var (
	nodeOrgName      string
	nodeCountry      string
	nodeOrgType      string
	nodeJurisdiction string
	nodeContactEmail string
	nodePublicKey    string
	nodeEndpoint     string
	nodeListStatus   string
)

var nodeRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new node (operator approval required before submitting)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		result, err := c.RegisterNode(context.Background(), client.RegisterNodeRequest{
			OrgName:      nodeOrgName,
			Country:      nodeCountry,
			OrgType:      nodeOrgType,
			Jurisdiction: nodeJurisdiction,
			ContactEmail: nodeContactEmail,
			PublicKey:    nodePublicKey,
			APIEndpoint:  nodeEndpoint,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Node ID: %s\n", result.Node.ID)
		fmt.Printf("Status:  %s\n", result.Node.Status)
		fmt.Printf("API key: %s\n", result.APIKey)
		fmt.Println("\nStore the API key now; it is not shown again.")
		return nil
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered nodes (operator)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.ListNodes(context.Background(), nodeListStatus)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tORG\tCOUNTRY\tSTATUS\tLAST ACTIVE")
		for _, n := range list {
			lastActive := "-"
			if n.LastActiveAt != nil {
				lastActive = n.LastActiveAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.OrgName, n.Country, n.Status, lastActive)
		}
		return w.Flush()
	},
}

var nodeShowCmd = &cobra.Command{
	Use:   "show <node-id>",
	Short: "Show one node with its recent submission activity (operator)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		n, err := c.GetNode(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(n)
	},
}

var nodeApproveCmd = &cobra.Command{
	Use:   "approve <node-id>",
	Short: "Approve a pending node (operator)",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return decideNode(args[0], true) },
}

var nodeRejectCmd = &cobra.Command{
	Use:   "reject <node-id>",
	Short: "Reject a pending node (operator)",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return decideNode(args[0], false) },
}

func decideNode(id string, approve bool) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	n, err := c.VerifyNode(context.Background(), id, approve)
	if err != nil {
		return err
	}
	fmt.Printf("Node %s is now %s\n", n.ID, n.Status)
	return nil
}

func init() {
	nodeRegisterCmd.Flags().StringVar(&nodeOrgName, "org", "", "organization name (required)")
	nodeRegisterCmd.Flags().StringVar(&nodeCountry, "country", "", "ISO country code (required)")
	nodeRegisterCmd.Flags().StringVar(&nodeOrgType, "org-type", "", "organization type: regulator, auditor, ngo, lab (required)")
	nodeRegisterCmd.Flags().StringVar(&nodeJurisdiction, "jurisdiction", "", "legal jurisdiction")
	nodeRegisterCmd.Flags().StringVar(&nodeContactEmail, "contact", "", "contact email (required)")
	nodeRegisterCmd.Flags().StringVar(&nodePublicKey, "public-key", "", "base64 Ed25519 public key for signed submissions")
	nodeRegisterCmd.Flags().StringVar(&nodeEndpoint, "endpoint", "", "node API endpoint URL")
	_ = nodeRegisterCmd.MarkFlagRequired("org")
	_ = nodeRegisterCmd.MarkFlagRequired("country")
	_ = nodeRegisterCmd.MarkFlagRequired("org-type")
	_ = nodeRegisterCmd.MarkFlagRequired("contact")

	nodeListCmd.Flags().StringVar(&nodeListStatus, "status", "", "filter by status: pending, verified, rejected, inactive")

	nodeCmd.AddCommand(nodeRegisterCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeShowCmd)
	nodeCmd.AddCommand(nodeApproveCmd)
	nodeCmd.AddCommand(nodeRejectCmd)
}

// ── login / operator-token ───────────────────────────────────────────────────

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with email and password and save the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginEmail == "" || loginPassword == "" {
			return errors.New("--email and --password are required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		tok, err := c.Login(context.Background(), loginEmail, loginPassword)
		if err != nil {
			return err
		}
		if err := saveToken(tok); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		fmt.Printf("logged in, token saved to %s\n", tokenPath())
		return nil
	},
}

var operatorSecret string

var operatorTokenCmd = &cobra.Command{
	Use:   "operator-token",
	Short: "Exchange the admin secret for an operator session token (standalone deployments)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if operatorSecret == "" {
			operatorSecret = os.Getenv("ATTESTIA_ADMIN_SECRET")
		}
		if operatorSecret == "" {
			return errors.New("--secret or ATTESTIA_ADMIN_SECRET is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		tok, err := c.OperatorToken(context.Background(), operatorSecret)
		if err != nil {
			return err
		}
		if err := saveToken(tok); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		fmt.Printf("operator token saved to %s\n", tokenPath())
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password")
	operatorTokenCmd.Flags().StringVar(&operatorSecret, "secret", "", "admin secret configured on the server")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("attestia %s\n", version)
	},
}
