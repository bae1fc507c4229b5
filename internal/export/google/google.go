package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"moneymind/internal/core"
	"moneymind/internal/export"
	"moneymind/internal/log"
)

// Ensure interface conformance
var (
	_ export.SnapshotWriter = (*Client)(nil)
	_ export.SnapshotLister = (*Client)(nil)
)

type Options struct {
	SpreadsheetID string
	SheetName     string
	// CredentialsJSON wins over CredentialsFile.
	CredentialsJSON string
	CredentialsFile string
	Logger          *log.Logger

	// ClientOptions replace the credential options, e.g. to target a test endpoint.
	ClientOptions []goption.ClientOption
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	logger        *log.Logger
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	sheet := strings.TrimSpace(opts.SheetName)
	if sheet == "" {
		sheet = "Moneymind"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentExport)

	clientOpts := opts.ClientOptions
	if len(clientOpts) == 0 {
		creds, err := loadCredentials(opts)
		if err != nil {
			return nil, err
		}
		clientOpts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
		logger.InfoContext(ctx, "Creating Google Sheets service with Service Account",
			"credentials_size", len(creds),
			"scope", gsheet.SpreadsheetsScope)
	}

	svc, err := gsheet.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheet:         sheet,
		logger:        logger,
	}, nil
}

func loadCredentials(opts Options) ([]byte, error) {
	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		return []byte(opts.CredentialsJSON), nil
	case strings.TrimSpace(opts.CredentialsFile) != "":
		b, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

func (c *Client) columns() string {
	return fmt.Sprintf("%s!A:%s", c.sheet, columnLetter(len(export.Header)))
}

// EnsureHeader writes the header row when the sheet is empty.
func (c *Client) EnsureHeader(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A1:%s1", c.sheet, columnLetter(len(export.Header)))
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header %s: %w", rng, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}
	header := make([]any, len(export.Header))
	for i, h := range export.Header {
		header[i] = h
	}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{header}}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header %s: %w", rng, err)
	}
	c.logger.InfoContext(ctx, "Wrote export header", "range", rng)
	return nil
}

// Append adds the row after the last one in the sheet and returns the
// updated range.
func (c *Client) Append(ctx context.Context, r export.Row) (string, error) {
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	vr := &gsheet.ValueRange{Values: [][]any{r.Values()}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.columns(), vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.sheet, err)
	}

	ref := c.columns()
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.InfoContext(ctx, "Exported dashboard snapshot",
		log.FieldUsername, r.Username,
		log.FieldMonth, r.Month,
		log.FieldRef, ref)
	return ref, nil
}

// ListRows reads back the rows exported for username. Rows that do not parse
// are skipped.
func (c *Client) ListRows(ctx context.Context, username string) ([]export.Row, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, c.columns()).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.columns(), err)
	}
	var out []export.Row
	for _, raw := range resp.Values {
		row, ok := parseRow(toStrings(raw))
		if !ok || row.Username != username {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func parseRow(cells []string) (export.Row, bool) {
	if len(cells) < 2 {
		return export.Row{}, false
	}
	ts, err := time.Parse(time.RFC3339, cells[0])
	if err != nil {
		// Header row or hand-edited cell.
		return export.Row{}, false
	}
	num := func(i int) float64 {
		if i >= len(cells) {
			return 0
		}
		v, err := core.ParseAmount(cells[i])
		if err != nil {
			return 0
		}
		return v
	}
	row := export.Row{
		Timestamp:    ts,
		Username:     cells[1],
		IncomeTotal:  num(3),
		ExpenseTotal: num(4),
		Expenses: core.Expense{
			Rent:          num(6),
			Groceries:     num(7),
			Utilities:     num(8),
			Insurance:     num(9),
			Gas:           num(10),
			Miscellaneous: num(11),
		},
	}
	if len(cells) > 2 {
		row.Month, _ = strconv.Atoi(strings.TrimSpace(cells[2]))
	}
	if len(cells) > 5 {
		if v, err := core.ParseAmount(cells[5]); err == nil {
			row.NetTotal = &v
		}
	}
	return row, true
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// columnLetter maps 1 -> A, 26 -> Z, 27 -> AA.
func columnLetter(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}
