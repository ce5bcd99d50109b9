// auth.go implements per-venue request signing. Centralized exchanges
// authenticate REST trading calls with an HMAC over the request, not an
// on-chain signature — each venue defines its own canonical string to sign
// and its own digest algorithm.
//
//   - MEXC: HMAC-SHA256 over "accessKey+timestamp+queryString", hex-encoded,
//     sent as the "signature" query parameter alongside "timestamp".
//   - Gate.io: HMAC-SHA512 over "method\nrequestPath\nqueryString\nbodyHash\ntimestamp",
//     hex-encoded, sent as the "SIGN" header alongside "KEY" and "Timestamp".
//
// Both schemes are plain stdlib crypto/hmac; neither exchange needs
// elliptic-curve or typed-data signing.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SigningStrategy authenticates one outgoing REST request for a venue.
// Sign returns the header set to attach and, when the venue signs over the
// query string itself (MEXC), the final query string to send.
type SigningStrategy interface {
	// Sign computes the signature for method+path+query+body at the given
	// timestamp and returns the headers to attach and the query string to
	// actually send (which may have signature-related params appended).
	Sign(method, path, query, body string, ts time.Time) (headers map[string]string, signedQuery string, err error)
}

// MexcSigner implements MEXC's query-string HMAC-SHA256 signing strategy, per
// the "accessKey+timestamp+queryString" canonical form used by MEXC's spot REST API.
type MexcSigner struct {
	APIKey    string
	SecretKey string
}

func (s *MexcSigner) Sign(_, _, query, _ string, ts time.Time) (map[string]string, string, error) {
	timestamp := strconv.FormatInt(ts.UnixMilli(), 10)

	q := query
	if q != "" {
		q += "&"
	}
	q += "timestamp=" + timestamp

	mac := hmac.New(sha256.New, []byte(s.SecretKey))
	mac.Write([]byte(s.APIKey + timestamp + q))
	sig := hex.EncodeToString(mac.Sum(nil))

	signedQuery := q + "&signature=" + sig
	headers := map[string]string{
		"X-MEXC-APIKEY": s.APIKey,
	}
	return headers, signedQuery, nil
}

// GateioSigner implements Gate.io's HMAC-SHA512 signing strategy: the
// canonical string is "method\npath\nquery\nsha512(body)\ntimestamp" and the
// digest is sent in the SIGN header together with KEY and Timestamp.
type GateioSigner struct {
	APIKey    string
	SecretKey string
}

func (s *GateioSigner) Sign(method, path, query, body string, ts time.Time) (map[string]string, string, error) {
	timestamp := strconv.FormatInt(ts.Unix(), 10)

	bodyHash := sha512.Sum512([]byte(body))
	canonical := strings.Join([]string{
		method,
		path,
		query,
		hex.EncodeToString(bodyHash[:]),
		timestamp,
	}, "\n")

	mac := hmac.New(sha512.New, []byte(s.SecretKey))
	mac.Write([]byte(canonical))
	sig := hex.EncodeToString(mac.Sum(nil))

	headers := map[string]string{
		"KEY":       s.APIKey,
		"Timestamp": timestamp,
		"SIGN":      sig,
	}
	return headers, query, nil
}

// sortedQuery builds a deterministic, sorted query string from params so
// the signed string and the transmitted string always agree.
func sortedQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vals := url.Values{}
	for _, k := range keys {
		vals.Set(k, params[k])
	}
	return vals.Encode()
}

// NewSigningStrategy builds the SigningStrategy for a venue by kind.
func NewSigningStrategy(kind, apiKey, secretKey string) (SigningStrategy, error) {
	switch kind {
	case "mexc":
		return &MexcSigner{APIKey: apiKey, SecretKey: secretKey}, nil
	case "gateio":
		return &GateioSigner{APIKey: apiKey, SecretKey: secretKey}, nil
	default:
		return nil, fmt.Errorf("unknown signing strategy %q", kind)
	}
}
