package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"storefront-sync/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The daemon refused or failed the operation
	ExitCommandError = 2 // Bad arguments or daemon unreachable
	ExitAuthRequired = 3 // The session was logged out by the server
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error carries no code of its own.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var daemonErr *DaemonError
	if errors.As(err, &daemonErr) {
		switch daemonErr.Status {
		case 400:
			return ExitCommandError
		case 401:
			return ExitAuthRequired
		}
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success outputs data in the configured format. text renders the human form.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

// Error outputs err in the configured format.
func (f *OutputFormatter) Error(err error) {
	code, message := "ERROR", err.Error()
	var daemonErr *DaemonError
	if errors.As(err, &daemonErr) {
		code, message = daemonErr.Code, daemonErr.Message
	}

	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message},
		})
		return
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
}

// collection is the daemon's collection payload.
type collection struct {
	Collection   model.Kind   `json:"collection"`
	Mode         string       `json:"mode"`
	Items        []model.Item `json:"items"`
	Total        *int64       `json:"total,omitempty"`
	TotalDisplay string       `json:"total_display,omitempty"`
}

// status is the daemon's session status payload.
type status struct {
	Mode          string `json:"mode"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	PendingLocal  int    `json:"pending_local"`
	LastError     string `json:"last_error,omitempty"`
}

func writeCollection(w io.Writer, c *collection) {
	if len(c.Items) == 0 {
		fmt.Fprintf(w, "%s is empty (%s)\n", c.Collection, c.Mode)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if c.Collection.Quantified() {
		fmt.Fprintln(tw, "ID\tNAME\tQTY\tPRICE")
		for _, it := range c.Items {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", it.ID, it.Name, it.Quantity, model.FormatCents(it.Price))
		}
	} else {
		fmt.Fprintln(tw, "ID\tNAME\tPRICE")
		for _, it := range c.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", it.ID, it.Name, model.FormatCents(it.Price))
		}
	}
	tw.Flush()

	if c.TotalDisplay != "" {
		fmt.Fprintf(w, "total: %s\n", c.TotalDisplay)
	}
	fmt.Fprintf(w, "(%s)\n", c.Mode)
}

func writeStatus(w io.Writer, st *status) {
	if st.Authenticated {
		who := st.UserID
		if st.Email != "" {
			who = st.Email
		}
		fmt.Fprintf(w, "logged in as %s, mode %s\n", who, st.Mode)
	} else {
		fmt.Fprintf(w, "anonymous, mode %s\n", st.Mode)
	}
	if st.PendingLocal > 0 {
		fmt.Fprintf(w, "pending local changes: %d\n", st.PendingLocal)
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "last merge error: %s\n", st.LastError)
	}
}
