// Command moneymind is the command-line client for the personal finance
// backend.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"moneymind/internal/api"
	"moneymind/internal/app"
	"moneymind/internal/auth"
	"moneymind/internal/backend"
	"moneymind/internal/cli"
	"moneymind/internal/config"
	"moneymind/internal/core"
	"moneymind/internal/dashboard"
	"moneymind/internal/events"
	"moneymind/internal/log"
)

const usage = `Usage: moneymind <command> [flags]

Commands:
  register      create an account and show its dashboard
  login         check credentials
  dashboard     show income, expenses, trend and net total
  income        show the income breakdown
  expenses      show the expense breakdown
  set-income    update income fields, e.g. job=3000 real_estate=250
  set-expenses  update expense fields, e.g. rent=1200 misc=40
  export        append a dashboard snapshot to the export backend
  watch         refresh the dashboard on every ledger change event

Run "moneymind <command> -h" for the command's flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session holds what every command needs once its flags are parsed.
type session struct {
	cfg    *config.Config
	logger *log.Logger
	app    *app.App
	stdout io.Writer
}

type commonFlags struct {
	user     *string
	password *string
	url      *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		user:     fs.String("user", "", "Username"),
		password: fs.String("password", "", "Password (optional, will prompt if omitted)"),
		url:      fs.String("url", "", "Backend base URL (overrides MONEYMIND_BASE_URL)"),
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}
	name, args := args[0], args[1:]

	switch name {
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return nil
	case "register":
		return runRegister(ctx, args, stdin, stdout, stderr)
	case "login", "dashboard", "income", "expenses", "export", "watch":
		return runAuthenticated(ctx, name, args, stdin, stdout, stderr)
	case "set-income", "set-expenses":
		return runEdit(ctx, name, args, stdin, stdout, stderr)
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", name)
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runRegister(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("register", stderr)
	common := addCommonFlags(fs)
	email := fs.String("email", "", "Email address")
	firstName := fs.String("first-name", "", "First name")
	lastName := fs.String("last-name", "", "Last name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := open(ctx, "register", common, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	defer s.app.Close()

	password, err := passwordFor(common, stdin, stdout)
	if err != nil {
		return err
	}
	_, err = s.app.Register(ctx, core.Credentials{
		Username:  *common.user,
		Password:  password,
		Email:     *email,
		FirstName: *firstName,
		LastName:  *lastName,
	})
	if s.app.Username() == "" {
		return fmt.Errorf("registration failed: %s", s.app.Auth().Snapshot().ErrorMessage)
	}
	fmt.Fprintf(stdout, "Registered %s\n", s.app.Username())
	if err != nil {
		s.logger.Warn("Dashboard incomplete after registration", log.FieldError, err)
	}
	return dashboard.Render(stdout, s.app.Dashboard())
}

func runAuthenticated(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet(name, stderr)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := open(ctx, name, common, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	defer s.app.Close()

	if err := s.login(ctx, common, stdin); err != nil {
		return err
	}

	switch name {
	case "login":
		fmt.Fprintf(stdout, "Logged in as %s\n", s.app.Username())
		return nil
	case "dashboard":
		return dashboard.Render(stdout, s.app.Dashboard())
	case "income":
		return printIncome(stdout, s.app.Dashboard())
	case "expenses":
		return printExpenses(stdout, s.app.Dashboard())
	case "export":
		return s.export(ctx)
	case "watch":
		return s.watch(ctx)
	}
	return fmt.Errorf("unknown command %q", name)
}

func runEdit(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet(name, stderr)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	fields, err := parseAssignments(fs.Args())
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("%s: no field=value pairs given", name)
	}

	s, err := open(ctx, name, common, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	defer s.app.Close()

	if err := s.login(ctx, common, stdin); err != nil {
		return err
	}

	if name == "set-income" {
		err = s.app.EditIncome(ctx, fields)
	} else {
		err = s.app.EditExpenses(ctx, fields)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if name == "set-income" {
		return printIncome(stdout, s.app.Dashboard())
	}
	return printExpenses(stdout, s.app.Dashboard())
}

// open loads configuration and builds the app for one command run.
func open(ctx context.Context, name string, common commonFlags, stdin io.Reader, stdout, stderr io.Writer) (*session, error) {
	if strings.TrimSpace(*common.user) == "" {
		return nil, errors.New("missing required flags: user")
	}

	cli.LoadEnvFile()
	cfg := config.Load()
	if *common.url != "" {
		cfg.BaseURL = *common.url
	}
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, stderr).
		WithComponent(log.ComponentCLI).
		With(log.FieldOperation, name)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	policy, err := auth.ParsePolicy(cfg.RegisterPolicy)
	if err != nil {
		return nil, err
	}

	opts := app.Options{
		Client:         api.NewClient(api.OptionsFromConfig(cfg, logger)),
		RegisterPolicy: policy,
		Logger:         logger,
	}
	if name == "export" {
		bcfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			return nil, err
		}
		res, err := backend.NewFactory(logger).CreateExporter(ctx, bcfg)
		if err != nil {
			return nil, err
		}
		opts.Exporter = res.Exporter
	}

	return &session{cfg: cfg, logger: logger, app: app.New(opts), stdout: stdout}, nil
}

func (s *session) login(ctx context.Context, common commonFlags, stdin io.Reader) error {
	password, err := passwordFor(common, stdin, s.stdout)
	if err != nil {
		return err
	}
	_, err = s.app.Login(ctx, *common.user, password)
	if s.app.Username() == "" {
		return fmt.Errorf("login failed: %s", s.app.Auth().Snapshot().ErrorMessage)
	}
	if err != nil {
		// Partial dashboards still render; the store keeps the message.
		s.logger.Warn("Dashboard incomplete", log.FieldError, err)
	}
	return nil
}

func (s *session) export(ctx context.Context) error {
	ref, err := s.app.Export(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.stdout, "Exported snapshot for %s (%s)\n", s.app.Username(), ref)
	return nil
}

func (s *session) watch(ctx context.Context) error {
	if s.cfg.AMQPURL == "" {
		return errors.New("watch requires AMQP_URL")
	}
	consumer, err := cli.InitEvents(s.logger, s.cfg, "")
	if err != nil {
		return err
	}
	defer consumer.Close()

	if err := dashboard.Render(s.stdout, s.app.Dashboard()); err != nil {
		return err
	}
	err = consumer.ConsumeLedgerChanges(ctx, func(ctx context.Context, msg *events.LedgerChanged) error {
		if msg.Username != s.app.Username() {
			return nil
		}
		if err := s.app.HandleLedgerChange(ctx, msg); err != nil {
			return err
		}
		fmt.Fprintf(s.stdout, "\n-- %s changed --\n", msg.Resource)
		return dashboard.Render(s.stdout, s.app.Dashboard())
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func passwordFor(common commonFlags, stdin io.Reader, stdout io.Writer) (string, error) {
	if *common.password != "" {
		return *common.password, nil
	}
	fmt.Fprint(stdout, "Password: ")
	password, err := readPassword(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(stdout)
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password cannot be empty")
	}
	// Reuse for a second prompt in the same run.
	*common.password = password
	return password, nil
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	// Fallback for non-terminal input (tests, pipes)
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// parseAssignments turns ["rent=1200", "gas=40"] into a field map.
func parseAssignments(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected field=value, got %q", a)
		}
		fields[strings.TrimSpace(k)] = v
	}
	return fields, nil
}

func printIncome(w io.Writer, v dashboard.View) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Job\t%.2f\n", v.Income.Job)
	fmt.Fprintf(tw, "Real estate\t%.2f\n", v.Income.RealEstate)
	fmt.Fprintf(tw, "Investments\t%.2f\n", v.Income.Investments)
	fmt.Fprintf(tw, "Total\t%.2f\n", v.IncomeTotal)
	return tw.Flush()
}

func printExpenses(w io.Writer, v dashboard.View) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	slices := append([]dashboard.Slice(nil), v.Slices...)
	sort.SliceStable(slices, func(i, j int) bool { return slices[i].Value > slices[j].Value })
	for _, s := range slices {
		fmt.Fprintf(tw, "%s\t%.2f\n", s.Label, s.Value)
	}
	fmt.Fprintf(tw, "Total\t%.2f\n", v.ExpenseTotal)
	return tw.Flush()
}
