// pages-admin is the operator tool for a primal-pages instance. It
// creates admin keys, mints actor tokens through the admin API, and
// copies a page's document between instances or pages.
//
// Usage:
//
//	pages-admin hash-key
//	pages-admin token -target http://localhost:3000 -admin-key KEY \
//	            -actor alice -tenant acme
//	pages-admin copy -source http://a:3000 -source-token JWT -page P1 \
//	            -target http://b:3000 -target-token JWT -to P2
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

	"github.com/rs/zerolog"

	"github.com/primal-host/primal-pages/internal/auth"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "hash-key":
		err = hashKey()
	case "token":
		err = token(os.Args[2:])
	case "copy":
		err = copyContent(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pages-admin hash-key | token [flags] | copy [flags]")
	os.Exit(2)
}

// hashKey prints a fresh admin key and the bcrypt hash for the config.
func hashKey() error {
	key, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	fmt.Printf("adminKey:     %s\nadminKeyHash: %s\n", key, hash)
	return nil
}

func token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	target := fs.String("target", "", "primal-pages URL (e.g., http://localhost:3000)")
	adminKey := fs.String("admin-key", "", "Admin key")
	actorID := fs.String("actor", "", "Actor id")
	tenantID := fs.String("tenant", "", "Tenant id")
	_ = fs.Parse(args)

	if *target == "" || *adminKey == "" || *actorID == "" || *tenantID == "" {
		return fmt.Errorf("all flags are required: -target, -admin-key, -actor, -tenant")
	}

	c := newClient(*target, *adminKey)
	var pair auth.TokenPair
	err := c.call(http.MethodPost, "/auth/token", map[string]string{
		"actorId":  *actorID,
		"tenantId": *tenantID,
	}, &pair)
	if err != nil {
		return err
	}
	fmt.Printf("accessJwt:  %s\nrefreshJwt: %s\n", pair.AccessJwt, pair.RefreshJwt)
	return nil
}

// pageContent is the subset of the content endpoint this tool moves.
type pageContent struct {
	DocJSON json.RawMessage `json:"docJson"`
	Version int             `json:"version"`
	Title   string          `json:"title"`
}

func copyContent(args []string) error {
	fs := flag.NewFlagSet("copy", flag.ExitOnError)
	source := fs.String("source", "", "Source primal-pages URL")
	sourceToken := fs.String("source-token", "", "Access token on the source")
	pageID := fs.String("page", "", "Source page id")
	target := fs.String("target", "", "Target primal-pages URL (defaults to -source)")
	targetToken := fs.String("target-token", "", "Access token on the target (defaults to -source-token)")
	toID := fs.String("to", "", "Target page id")
	dryRun := fs.Bool("dry-run", false, "Fetch both documents without writing")
	_ = fs.Parse(args)

	if *target == "" {
		*target = *source
	}
	if *targetToken == "" {
		*targetToken = *sourceToken
	}
	if *source == "" || *sourceToken == "" || *pageID == "" || *toID == "" {
		return fmt.Errorf("required flags: -source, -source-token, -page, -to")
	}

	src := newClient(*source, *sourceToken)
	dst := newClient(*target, *targetToken)

	var from, to pageContent
	if err := src.call(http.MethodGet, "/pages/"+*pageID+"/content", nil, &from); err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if err := dst.call(http.MethodGet, "/pages/"+*toID+"/content", nil, &to); err != nil {
		return fmt.Errorf("read target: %w", err)
	}
	log.Info().Str("from", from.Title).Int("fromVersion", from.Version).
		Str("to", to.Title).Int("toVersion", to.Version).Msg("documents loaded")

	if *dryRun {
		return nil
	}

	var res struct {
		Version int `json:"version"`
		Dropped int `json:"dropped"`
	}
	err := dst.call(http.MethodPost, "/pages/"+*toID+"/content", map[string]any{
		"docJson": from.DocJSON,
		"version": to.Version,
	}, &res)
	if err != nil {
		return fmt.Errorf("write target: %w", err)
	}
	// Links to pages that do not exist on the target are dropped there.
	log.Info().Int("version", res.Version).Int("droppedBlocks", res.Dropped).Msg("document copied")
	return nil
}

type client struct {
	base   string
	bearer string
	http   *http.Client
}

func newClient(base, bearer string) *client {
	return &client{
		base:   strings.TrimRight(base, "/"),
		bearer: bearer,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// call sends an optional JSON body and decodes a JSON response into out.
// Non-2xx responses become errors carrying the server's message.
func (c *client) call(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %d %s: %s", method, path, resp.StatusCode, e.Error, e.Message)
		}
		return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
