package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vertextoedge/diskguard/internal/service/server"
)

var (
	overrideAddr     string
	overrideUser     string
	overridePassword string
	overrideAll      string
	overrideReplace  bool
	overrideRefresh  bool
)

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Inspect or change free space overrides of a running node",
	Long: `Free space overrides pin the free bytes reported for every directory
under a prefix. They are applied on the next probe, or immediately with
--refresh.

Examples:
  diskguard override show
  diskguard override set /data/a:0 /data/b:1GiB
  diskguard override set --all 0
  diskguard override clear /data/a
  diskguard override clear`,
}

var overrideShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current overrides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := overrideRequest(http.MethodGet, nil, nil)
		if err != nil {
			return err
		}
		printOverrides(cmd.OutOrStdout(), resp)
		return nil
	},
}

var overrideSetCmd = &cobra.Command{
	Use:   "set [prefix:bytes]...",
	Short: "Set prefix overrides and/or the global override",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := server.OverrideRequest{
			Spec:    strings.Join(args, ","),
			Replace: overrideReplace,
		}
		if cmd.Flags().Changed("all") {
			all := overrideAll
			req.All = &all
		}
		if req.Spec == "" && req.All == nil && !req.Replace {
			return fmt.Errorf("nothing to set: pass prefix:bytes arguments or --all")
		}

		resp, err := overrideRequest(http.MethodPut, &req, nil)
		if err != nil {
			return err
		}
		printOverrides(cmd.OutOrStdout(), resp)
		return nil
	},
}

var overrideClearCmd = &cobra.Command{
	Use:   "clear [prefix]",
	Short: "Remove one prefix override, or every override",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := url.Values{}
		if len(args) == 1 {
			query.Set("prefix", args[0])
		}
		resp, err := overrideRequest(http.MethodDelete, nil, query)
		if err != nil {
			return err
		}
		printOverrides(cmd.OutOrStdout(), resp)
		return nil
	},
}

func init() {
	overrideCmd.PersistentFlags().StringVar(&overrideAddr, "addr", "http://127.0.0.1:8089", "Admin server address")
	overrideCmd.PersistentFlags().StringVar(&overrideUser, "user", "admin", "Admin username")
	overrideCmd.PersistentFlags().StringVar(&overridePassword, "password", "", "Admin password")
	overrideCmd.PersistentFlags().BoolVar(&overrideRefresh, "refresh", true, "Probe immediately after the change")

	overrideSetCmd.Flags().StringVar(&overrideAll, "all", "", `Free bytes for every directory without a prefix match ("" clears it)`)
	overrideSetCmd.Flags().BoolVar(&overrideReplace, "replace", false, "Drop existing prefix overrides first")

	overrideCmd.AddCommand(overrideShowCmd)
	overrideCmd.AddCommand(overrideSetCmd)
	overrideCmd.AddCommand(overrideClearCmd)
}

func overrideRequest(method string, body *server.OverrideRequest, query url.Values) (*server.OverrideResponse, error) {
	if query == nil {
		query = url.Values{}
	}
	if method != http.MethodGet && overrideRefresh {
		query.Set("refresh", "true")
	}

	u := strings.TrimRight(overrideAddr, "/") + "/admin/overrides"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if overridePassword != "" {
		req.SetBasicAuth(overrideUser, overridePassword)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("admin server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return nil, fmt.Errorf("admin server: %s", e.Error)
	}

	var out server.OverrideResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid admin response: %w", err)
	}
	return &out, nil
}

func printOverrides(w io.Writer, resp *server.OverrideResponse) {
	if len(resp.Prefixes) == 0 && resp.All == nil {
		fmt.Fprintln(w, "no overrides")
		return
	}

	prefixes := make([]string, 0, len(resp.Prefixes))
	for p := range resp.Prefixes {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		v := resp.Prefixes[p]
		fmt.Fprintf(w, "%-40s %d (%s)\n", p, v, humanize.IBytes(v))
	}
	if resp.All != nil {
		fmt.Fprintf(w, "%-40s %d (%s)\n", "*", *resp.All, humanize.IBytes(*resp.All))
	}
}
