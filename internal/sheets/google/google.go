package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finlens/internal/sheets"
)

var _ sheets.ValuesWriter = (*Client)(nil)

// Client writes cell ranges through the Sheets v4 API. Rate-limited calls
// are retried.
type Client struct {
	svc        *gsheet.Service
	attempts   uint
	retryDelay time.Duration
}

// Credentials selects where the service account key comes from. JSON wins
// over File; with neither set GOOGLE_APPLICATION_CREDENTIALS is consulted.
type Credentials struct {
	JSON string
	File string
}

// New creates a Sheets client using Service Account credentials.
func New(ctx context.Context, creds Credentials, opts ...goption.ClientOption) (*Client, error) {
	credentialsJSON, err := loadCredentials(ctx, creds)
	if err != nil {
		return nil, err
	}
	opts = append([]goption.ClientOption{
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}, opts...)
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created successfully")
	return NewWithService(svc), nil
}

// NewWithService wraps an already configured service.
func NewWithService(svc *gsheet.Service) *Client {
	return &Client{svc: svc, attempts: 3, retryDelay: 30 * time.Second}
}

func loadCredentials(ctx context.Context, creds Credentials) ([]byte, error) {
	file := strings.TrimSpace(creds.File)
	if strings.TrimSpace(creds.JSON) == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case strings.TrimSpace(creds.JSON) != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		return []byte(creds.JSON), nil
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON, GOOGLE_CREDENTIALS_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

func (c *Client) Clear(ctx context.Context, spreadsheetID, rng string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	return c.do(ctx, func() error {
		_, err := c.svc.Spreadsheets.Values.Clear(spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
			Context(ctx).Do()
		return err
	})
}

func (c *Client) Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	vr := &gsheet.ValueRange{Values: rows}
	return c.do(ctx, func() error {
		_, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
}

func (c *Client) do(ctx context.Context, call func() error) error {
	return retry.Do(
		call,
		retry.RetryIf(func(err error) bool {
			if isRateLimited(err) {
				slog.WarnContext(ctx, "Sheets API rate limited, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
}
