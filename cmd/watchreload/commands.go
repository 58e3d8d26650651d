package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"watchreload/internal/client"
	"watchreload/internal/config"
)

const defaultDaemonURL = "http://127.0.0.1:8089"

type clientFlags struct {
	URL   string
	Token string
}

func parseClientFlags(name string, args []string, environ []string) (clientFlags, []string, error) {
	fs := flag.NewFlagSet("watchreload "+name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags := clientFlags{}
	defaultURL := envValue(environ, config.EnvPrefix+"URL")
	if defaultURL == "" {
		defaultURL = defaultDaemonURL
	}
	fs.StringVar(&flags.URL, "url", defaultURL, "Daemon base URL")
	fs.StringVar(&flags.Token, "token", envValue(environ, config.EnvPrefix+"TOKEN"), "Auth token")
	if err := fs.Parse(args); err != nil {
		return clientFlags{}, nil, err
	}
	return flags, fs.Args(), nil
}

// runModulesCommand prints each watched path with its targets' keys.
func runModulesCommand(args []string, environ []string, out, errOut io.Writer) int {
	flags, _, err := parseClientFlags("modules", args, environ)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	modules, err := client.FetchModules(&http.Client{Timeout: 10 * time.Second}, flags.URL, flags.Token)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	for _, entry := range modules {
		fmt.Fprintf(out, "%s (listeners: %d)\n", entry.Path, entry.Listeners)
		for _, target := range entry.Targets {
			keys := make([]string, 0, len(target.Exports))
			for key := range target.Exports {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			fmt.Fprintf(out, "  %s: %s\n", target.Module, strings.Join(keys, ", "))
		}
	}
	return 0
}

func runReloadCommand(args []string, environ []string, errOut io.Writer) int {
	flags, rest, err := parseClientFlags("reload", args, environ)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if len(rest) == 0 {
		fmt.Fprintln(errOut, "usage: watchreload reload [--url URL] [--token TOKEN] MODULE...")
		return 2
	}
	status := 0
	httpClient := &http.Client{Timeout: 10 * time.Second}
	for _, specifier := range rest {
		if err := client.Reload(httpClient, flags.URL, flags.Token, specifier); err != nil {
			var httpErr *client.HTTPError
			if errors.As(err, &httpErr) {
				fmt.Fprintf(errOut, "%s: %s (%d)\n", specifier, httpErr.Message, httpErr.StatusCode)
			} else {
				fmt.Fprintf(errOut, "%s: %v\n", specifier, err)
			}
			status = 1
		}
	}
	return status
}
