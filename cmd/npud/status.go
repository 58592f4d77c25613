package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"npud/pkg/types"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var (
		server  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show resource usage of a running npud",
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				cfg, err := root.load()
				if err != nil {
					return err
				}
				server = baseURL(cfg.Server.Addr)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := fetchStatus(ctx, http.DefaultClient, server)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Base URL of the npud API (default derived from config addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

// baseURL turns a listen address such as ":8080" into a client URL.
func baseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func fetchStatus(ctx context.Context, c *http.Client, server string) (types.ResourceStatus, error) {
	var st types.ResourceStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/status", nil)
	if err != nil {
		return st, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return st, fmt.Errorf("query %s: %w", server, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return st, fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

func printStatus(w io.Writer, st types.ResourceStatus) {
	used := fmt.Sprintf("%d/%d MB", st.UsedMemoryMB, st.MaxMemoryMB)
	if st.MaxMemoryMB > 0 && st.UsedMemoryMB*10 >= st.MaxMemoryMB*9 {
		used = color.YellowString(used)
	}
	fmt.Fprintf(w, "%s %d/%d active, %s admitted, %d MB resident, up %s\n",
		color.New(color.Bold).Sprint("npud"),
		st.ActiveModels, st.MaxConcurrentModels, used, st.ResidentMB,
		time.Duration(st.UptimeSeconds)*time.Second)
	fmt.Fprintf(w, "loads %d, evictions %d", st.LoadsTotal, st.EvictionsTotal)
	for kind, n := range st.Rejections {
		if n > 0 {
			fmt.Fprintf(w, ", %s %s", color.RedString("rejected "+kind), strconv.FormatUint(n, 10))
		}
	}
	fmt.Fprintln(w)
	if len(st.Instances) == 0 {
		fmt.Fprintln(w, "no resident models")
		return
	}
	fmt.Fprintln(w)
	rows := make([][]string, 0, len(st.Instances))
	for _, in := range st.Instances {
		rows = append(rows, []string{
			in.ModelID,
			in.State,
			in.Architecture,
			strconv.FormatUint(in.FootprintMB, 10),
			strconv.Itoa(in.Inflight),
			strconv.FormatUint(in.Usage.InferenceCount, 10),
			strconv.FormatFloat(in.Usage.AccessFrequencyPerMinute, 'f', 1, 64),
		})
	}
	renderTable(w, []string{"Model", "State", "Arch", "MB", "Inflight", "Inferences", "Per min"}, rows)
}
