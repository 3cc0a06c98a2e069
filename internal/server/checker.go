package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"oscillate/internal/utils"
)

// Checker polls the status endpoint of a set of peers and prints one row per
// peer, so the wave can be watched from outside the chain.
type Checker struct {
	Addresses []string
	WebPath   string
	Client    *http.Client
}

func NewChecker(addresses []string, webPath string) *Checker {
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a = utils.CanonicalizeAddress(a); a != "" {
			out = append(out, a)
		}
	}
	return &Checker{
		Addresses: out,
		WebPath:   utils.CanonicalizeWebPath(webPath),
		Client:    &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *Checker) fetch(ctx context.Context, addr string) (Status, error) {
	var st Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+c.WebPath+"/status", nil)
	if err != nil {
		return st, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return st, err
	}
	defer func() { _ = drainAndClose(resp.Body) }()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&st)
	return st, err
}

// CheckOnce writes the current status of every peer. Unreachable peers get
// an error row; the call itself only fails when w does.
func (c *Checker) CheckOnce(ctx context.Context, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tLOCATION\tPOSITION\tSTATE\tDIRECTION\tLENGTH")
	for _, addr := range c.Addresses {
		st, err := c.fetch(ctx, addr)
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\terror: %v\n", addr, err)
			continue
		}
		location := "-"
		if st.Location != nil {
			location = strconv.Itoa(*st.Location)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%d\n",
			addr, st.Name, location, orDash(string(st.Position)), st.State, orDash(string(st.Direction)), st.Length)
	}
	return tw.Flush()
}

// Run calls CheckOnce every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration, w io.Writer) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := c.CheckOnce(ctx, w); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
