package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"storefront-sync/internal/model"
)

// reportedError marks an error already written by the OutputFormatter.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// Reported reports whether err has already been shown to the user.
func Reported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}

// execute runs one daemon call and reports its outcome in the chosen format.
func execute(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, c *daemonClient, out *OutputFormatter) error) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := fn(cmd.Context(), newDaemonClient(opts), out); err != nil {
		out.Error(err)
		return &reportedError{err: err}
	}
	return nil
}

func collectionPath(kind model.Kind) string {
	return "/collections/" + string(kind)
}

func itemPath(kind model.Kind, id string) string {
	return collectionPath(kind) + "/items/" + url.PathEscape(id)
}

func showCollection(out *OutputFormatter, c *collection) error {
	return out.Success(c, func(w io.Writer) { writeCollection(w, c) })
}

func showStatus(out *OutputFormatter, st *status) error {
	return out.Success(st, func(w io.Writer) { writeStatus(w, st) })
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the session is logged in and merged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, func(ctx context.Context, c *daemonClient, out *OutputFormatter) error {
				var st status
				if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
					return err
				}
				return showStatus(out, &st)
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "list <cart|wishlist>",
		Short: "List a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseKind(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid collection", err)
			}
			return execute(cmd, opts, func(ctx context.Context, c *daemonClient, out *OutputFormatter) error {
				path := collectionPath(kind)
				if refresh {
					path += "?refresh=true"
				}
				var coll collection
				if err := c.do(ctx, http.MethodGet, path, nil, &coll); err != nil {
					return err
				}
				return showCollection(out, &coll)
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-read the server instead of the last known state")
	return cmd
}

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	var name, price, image string

	cmd := &cobra.Command{
		Use:   "add <cart|wishlist> <product-id>",
		Short: "Add one unit of a product",
		Example: `  storefront add cart 60 --name "Beanie" --price 18.00
  storefront add wishlist 61`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseKind(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid collection", err)
			}
			body := map[string]any{"id": args[1]}
			if name != "" {
				body["name"] = name
			}
			if price != "" {
				body["price"] = model.ParseCents(price)
			}
			if image != "" {
				body["image_url"] = image
			}
			return execute(cmd, opts, func(ctx context.Context, c *daemonClient, out *OutputFormatter) error {
				var coll collection
				if err := c.do(ctx, http.MethodPost, collectionPath(kind)+"/items", body, &coll); err != nil {
					return err
				}
				return showCollection(out, &coll)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&price, "price", "", "unit price, e.g. 12.50")
	cmd.Flags().StringVar(&image, "image", "", "image URL")
	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <cart|wishlist> <product-id>",
		Short: "Remove a product from a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseKind(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid collection", err)
			}
			return execute(cmd, opts, func(ctx context.Context, c *daemonClient, out *OutputFormatter) error {
				var coll collection
				if err := c.do(ctx, http.MethodDelete, itemPath(kind, args[1]), nil, &coll); err != nil {
					return err
				}
				return showCollection(out, &coll)
			})
		},
	}
}

// NewSetCommand creates the set command.
func NewSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <product-id> <quantity>",
		Short: "Set the cart quantity of a product (0 removes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil || qty < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid quantity %q", args[1]))
			}
			return execute(cmd, opts, func(ctx context.Context, c *daemonClient, out *OutputFormatter) error {
				var coll collection
				body := map[string]int{"quantity": qty}
				if err := c.do(ctx, http.MethodPut, itemPath(model.KindCart, args[0]), body, &coll); err != nil {
					return err
				}
				return showCollection(out, &coll)
			})
		},
	}
}

// NewWishCommand creates the wish command.
func NewWishCommand(opts *RootOptions) *cobra.Command {
	var (
		off  bool
		name string
	)

	cmd := &cobra.Command{
		Use:   "wish <product-id>",
		Short: "Put a product on the wishlist, or take it off with --off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"present": !off}
			if name != "" {
				body["name"] = name
			}
			return execute(cmd, opts, func(ctx context.Context, c *daemonClient, out *OutputFormatter) error {
				var coll collection
				if err := c.do(ctx, http.MethodPut, itemPath(model.KindWishlist, args[0]), body, &coll); err != nil {
					return err
				}
				return showCollection(out, &coll)
			})
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "take the product off the wishlist")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

// NewTotalCommand creates the total command.
func NewTotalCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "total",
		Short: "Show the cart subtotal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, func(ctx context.Context, c *daemonClient, out *OutputFormatter) error {
				var total struct {
					Total        int64  `json:"total"`
					TotalDisplay string `json:"total_display"`
				}
				if err := c.do(ctx, http.MethodGet, "/cart/total", nil, &total); err != nil {
					return err
				}
				return out.Success(total, func(w io.Writer) { fmt.Fprintln(w, total.TotalDisplay) })
			})
		},
	}
}

// NewLoginCommand creates the login command.
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	var email, password, token, user string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and merge the local cart and wishlist into the account",
		Example: `  storefront login --email ann@example.com --password secret
  storefront login --token "$JWT" --user 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			switch {
			case email != "" && password != "":
				body["email"], body["password"] = email, password
			case token != "" && user != "":
				body["token"], body["user_id"], body["email"] = token, user, email
			default:
				return NewExitError(ExitCommandError, "either --email and --password, or --token and --user, are required")
			}
			return execute(cmd, opts, func(ctx context.Context, c *daemonClient, out *OutputFormatter) error {
				var st status
				if err := c.do(ctx, http.MethodPost, "/session/login", body, &st); err != nil {
					return err
				}
				return showStatus(out, &st)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&token, "token", "", "bearer token issued by the storefront")
	cmd.Flags().StringVar(&user, "user", "", "user id the token belongs to")
	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out; the local cart and wishlist are discarded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, func(ctx context.Context, c *daemonClient, out *OutputFormatter) error {
				var st status
				if err := c.do(ctx, http.MethodPost, "/session/logout", nil, &st); err != nil {
					return err
				}
				return showStatus(out, &st)
			})
		},
	}
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Retry a failed merge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, func(ctx context.Context, c *daemonClient, out *OutputFormatter) error {
				var st status
				if err := c.do(ctx, http.MethodPost, "/session/retry", nil, &st); err != nil {
					return err
				}
				return showStatus(out, &st)
			})
		},
	}
}
