package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type remote struct {
	baseURL string
	token   string
}

func remoteFlags(fs *flag.FlagSet) *remote {
	r := &remote{}
	fs.StringVar(&r.baseURL, "url", "http://127.0.0.1:8080", "server base url")
	fs.StringVar(&r.token, "token", os.Getenv("WALKERSIM_ADMIN_TOKEN"), "admin bearer token")
	return r
}

// call sends the request and prints the response body. Non-2xx exits 1.
func (r *remote) call(method, path string, body any) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode:", err)
			os.Exit(1)
		}
		rd = bytes.NewReader(b)
	}
	u := strings.TrimRight(strings.TrimSpace(r.baseURL), "/") + path
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	r := remoteFlags(fs)
	_ = fs.Parse(args)
	r.call(http.MethodGet, "/admin/v1/state", nil)
}

func timescaleCmd(args []string) {
	fs := flag.NewFlagSet("timescale", flag.ExitOnError)
	r := remoteFlags(fs)
	v := fs.Float64("value", 1, "new timescale (0.01..100)")
	_ = fs.Parse(args)
	r.call(http.MethodPost, "/admin/v1/timescale", map[string]float64{"timescale": *v})
}

func noiseCmd(args []string) {
	fs := flag.NewFlagSet("noise", flag.ExitOnError)
	r := remoteFlags(fs)
	source := fs.String("source", "", "noise source name from sound_distance")
	radius := fs.Float64("radius", 0, "explicit radius (overrides -source)")
	x := fs.Float64("x", 0, "x")
	z := fs.Float64("z", 0, "z")
	_ = fs.Parse(args)

	body := map[string]any{"x": *x, "z": *z}
	switch {
	case *radius > 0:
		body["radius"] = *radius
	case *source != "":
		body["source"] = *source
	default:
		fmt.Fprintln(os.Stderr, "missing -source or -radius")
		os.Exit(2)
	}
	r.call(http.MethodPost, "/admin/v1/noise", body)
}

func checkpointCmd(args []string) {
	fs := flag.NewFlagSet("checkpoint", flag.ExitOnError)
	r := remoteFlags(fs)
	_ = fs.Parse(args)
	r.call(http.MethodPost, "/admin/v1/checkpoint", nil)
}

func checkpointsCmd(args []string) {
	fs := flag.NewFlagSet("checkpoints", flag.ExitOnError)
	r := remoteFlags(fs)
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)
	r.call(http.MethodGet, fmt.Sprintf("/admin/v1/checkpoints?limit=%d", *limit), nil)
}
