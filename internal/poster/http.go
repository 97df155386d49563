// Package poster implements the one-shot HTTPS delivery of a record (spec.md
// §4.6, component C6): a single blocking POST bounded by a connect timeout
// and a total timeout, success defined strictly as HTTP 200 or 201.
package poster

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/clearlinux/telempostd/internal/record"
)

const (
	connectTimeout = 5 * time.Second
	totalTimeout   = 10 * time.Second
)

// Poster sends records to a single configured collector endpoint.
type Poster struct {
	serverAddr string
	tidHeader  string
	client     *http.Client
}

// New builds a Poster targeting serverAddr. If caInfoPath is non-empty and
// exists, its PEM bundle overrides the client's root CA pool (spec.md §6
// "Optional CA file from cainfo_config()"); a missing path is silently
// ignored rather than failing startup, matching the original's access()
// check-then-skip behavior. Other read errors are logged and also ignored.
func New(serverAddr, tidHeader, caInfoPath string) *Poster {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
	}

	if caInfoPath != "" {
		if pemBytes, err := os.ReadFile(caInfoPath); err == nil {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(pemBytes) {
				transport.TLSClientConfig = &tls.Config{RootCAs: pool}
				log.Printf("poster: using custom CA bundle %s", caInfoPath)
			} else {
				log.Printf("poster: CA bundle %s contained no usable certificates, ignoring", caInfoPath)
			}
		} else if !os.IsNotExist(err) {
			log.Printf("poster: reading CA bundle %s: %v", caInfoPath, err)
		}
	}

	return &Poster{
		serverAddr: serverAddr,
		tidHeader:  tidHeader,
		client: &http.Client{
			Transport: transport,
			Timeout:   totalTimeout,
		},
	}
}

// Send POSTs rec's headers and body to the configured collector. It reports
// true only on a transport-error-free response of HTTP 200 or 201 (spec.md
// §6 "Success: HTTP 200 or 201"). Any other outcome — timeout, connection
// failure, non-2xx/201 status — is logged and reported as false; the
// pipeline decides what to do next (spool, drop, or bypass), the poster
// never does.
func (p *Poster) Send(ctx context.Context, rec record.Record, machineID string) bool {
	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverAddr, strings.NewReader(rec.Body))
	if err != nil {
		log.Printf("poster: building request: %v", err)
		return false
	}

	for _, h := range rec.Headers {
		if h.Key == "" {
			continue
		}
		req.Header.Add(h.Key, h.Value)
	}
	if p.tidHeader != "" {
		req.Header.Add("TID", p.tidHeader)
	}
	if machineID != "" {
		req.Header.Add("X-Machine-Id", machineID)
	}
	req.Header.Set("Content-Type", "application/text")

	resp, err := p.client.Do(req)
	if err != nil {
		log.Printf("poster: sending record failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Printf("poster: server returned status %d", resp.StatusCode)
		return false
	}
	return true
}

// Addr returns the configured collector address, for logging/metrics.
func (p *Poster) Addr() string {
	return p.serverAddr
}
