package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/basecamp/authgate/internal/api"
	"github.com/basecamp/authgate/internal/output"
)

const maxRepeat = 64

// NewRequestCmd creates the request command for one-off authenticated calls.
func NewRequestCmd() *cobra.Command {
	var data string
	var jq string
	var repeat int

	cmd := &cobra.Command{
		Use:   "request <method> <path>",
		Short: "Send an authenticated request",
		Long: `Send one request to the configured API through the session.

The access token and anti-forgery token are attached for you. When the server
reports an expired token, the session is refreshed and the request is resent
once.

Examples:
  authgate request get /v1/items
  authgate request post /v1/items --data '{"name":"widget"}'
  authgate request post /v1/items --data @item.json
  authgate request get /v1/items --jq '.[].name'
  authgate request get /v1/me --repeat 8`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			method := strings.ToUpper(args[0])
			if !validMethod(method) {
				return output.ErrUsageHint("Unknown method: "+args[0], "Use get, post, put, patch or delete")
			}
			path := parsePath(args[1])

			var body any
			if data != "" {
				raw, err := readData(data, cmd.InOrStdin())
				if err != nil {
					return err
				}
				body = raw
			}

			var query *gojq.Query
			if jq != "" {
				query, err = gojq.Parse(jq)
				if err != nil {
					return output.ErrUsageHint("Invalid --jq filter: "+err.Error(), "See https://jqlang.github.io/jq/manual/")
				}
			}

			if repeat < 1 || repeat > maxRepeat {
				return output.ErrUsage(fmt.Sprintf("--repeat must be between 1 and %d", maxRepeat))
			}

			start := time.Now()
			results, err := sendAll(cmd.Context(), app.API, method, path, body, repeat)
			if err != nil {
				return sessionError(err)
			}

			out := make([]any, len(results))
			for i, resp := range results {
				v := decodeData(resp.Data)
				if query != nil {
					if v, err = applyQuery(cmd.Context(), query, v); err != nil {
						return err
					}
				}
				out[i] = v
			}

			summary := requestSummary(method, path, results[0].StatusCode, repeat, time.Since(start))
			if repeat == 1 {
				return app.OK(out[0], output.WithSummary(summary))
			}
			return app.OK(out, output.WithSummary(summary))
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON body (@file reads a file, - reads stdin)")
	cmd.Flags().StringVar(&jq, "jq", "", "Filter the response with a jq expression")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "Send N concurrent copies of the request")

	return cmd
}

func validMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
		return true
	}
	return false
}

// parsePath accepts a path with or without a leading slash.
func parsePath(arg string) string {
	if !strings.HasPrefix(arg, "/") {
		return "/" + arg
	}
	return arg
}

// readData resolves --data: "@file" reads a file, "-" reads stdin.
func readData(data string, stdin io.Reader) ([]byte, error) {
	switch {
	case data == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return b, nil
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, output.ErrUsage(fmt.Sprintf("Cannot read %s: %v", data[1:], err))
		}
		return b, nil
	default:
		return []byte(data), nil
	}
}

// sendAll sends n copies of the request concurrently. The first failure
// cancels the others.
func sendAll(ctx context.Context, client *api.Client, method, path string, body any, n int) ([]*api.Response, error) {
	results := make([]*api.Response, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			resp, err := client.Do(gctx, method, path, body)
			if err != nil {
				return err
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// decodeData returns the body as a JSON value, or as a string when it is
// not JSON.
func decodeData(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// applyQuery runs a jq filter. A single result is returned as-is; several
// are collected into a list.
func applyQuery(ctx context.Context, query *gojq.Query, v any) (any, error) {
	iter := query.RunWithContext(ctx, v)
	var results []any
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := r.(error); isErr {
			if halt, isHalt := err.(*gojq.HaltError); isHalt && halt.Value() == nil {
				break
			}
			return nil, output.ErrUsage("jq: " + err.Error())
		}
		results = append(results, r)
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func requestSummary(method, path string, status, repeat int, elapsed time.Duration) string {
	s := fmt.Sprintf("%s %s → %d", method, path, status)
	if repeat > 1 {
		s += fmt.Sprintf(" (%d requests)", repeat)
	}
	return s + fmt.Sprintf(" in %dms", elapsed.Milliseconds())
}
