package authsdk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/browser"
)

// Navigator sends the user agent to a URL. It stands in for assigning
// window.location in a browser host.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, target string) error

func (f NavigatorFunc) Navigate(ctx context.Context, target string) error {
	return f(ctx, target)
}

// BrowserNavigator opens URLs in the system browser. When that fails the
// URL is printed to Out so the user can open it by hand.
type BrowserNavigator struct {
	Out    io.Writer // defaults to stderr
	Logger *slog.Logger
}

func (b BrowserNavigator) Navigate(ctx context.Context, target string) error {
	if err := browser.OpenURL(target); err != nil {
		if b.Logger != nil {
			b.Logger.WarnContext(ctx, "failed to open browser", "err", err)
		}

		out := b.Out
		if out == nil {
			out = os.Stderr
		}
		_, werr := fmt.Fprintf(out, "Please open this URL in your browser:\n\n  %s\n\n", target)
		return werr
	}
	return nil
}
