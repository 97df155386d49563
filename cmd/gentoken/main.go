// gentoken mints a single operator bearer token for telempostd's admin API,
// adapted from the teacher's cmd/token_gen and cmd/hasher one-shot tools.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/clearlinux/telempostd/internal/tokens"
)

func main() {
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	signingKey := os.Getenv("TELEMPOSTD_ADMIN_SIGNING_KEY")
	if signingKey == "" {
		log.Fatal("gentoken: TELEMPOSTD_ADMIN_SIGNING_KEY must be set to the same key the daemon's admin.signing_key config uses")
	}

	mgr := tokens.NewManager(signingKey)
	token, err := mgr.GenerateOperatorToken(*ttl)
	if err != nil {
		log.Fatalf("gentoken: %v", err)
	}

	fmt.Println(token)
}
