package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/huin/goupnp/httpu"
	"golang.org/x/sync/errgroup"
)

const ssdpMulticastAddr = "239.255.255.250:1900"

// SSDPResponse is the subset of an M-SEARCH reply that discovery uses.
type SSDPResponse struct {
	Location string
	Server   string
	ST       string
	USN      string
}

// Host returns the IP address advertised in Location, or "" when Location
// is missing or malformed.
func (r SSDPResponse) Host() string {
	u, err := url.Parse(r.Location)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// ParseSSDPHeaders extracts the interesting header lines from a raw SSDP
// datagram. Header names match case-insensitively; the value is everything
// after the first colon.
func ParseSSDPHeaders(raw string) SSDPResponse {
	var r SSDPResponse
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		name, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "LOCATION":
			r.Location = value
		case "SERVER":
			r.Server = value
		case "ST":
			r.ST = value
		case "USN":
			r.USN = value
		}
	}
	return r
}

func responseFromHTTP(resp *http.Response) SSDPResponse {
	return SSDPResponse{
		Location: resp.Header.Get("Location"),
		Server:   resp.Header.Get("Server"),
		ST:       resp.Header.Get("St"),
		USN:      resp.Header.Get("Usn"),
	}
}

// SSDPClient sends M-SEARCH queries over UDP multicast.
type SSDPClient struct {
	// Sends is how many times each query is transmitted; UDP may drop some.
	Sends int
	// LocalAddr binds the sockets to a specific interface address when set.
	LocalAddr string
	// Addr overrides the multicast group the queries go to.
	Addr string
}

func (c *SSDPClient) open() (*httpu.HTTPUClient, error) {
	if c.LocalAddr != "" {
		return httpu.NewHTTPUClientAddr(c.LocalAddr)
	}
	return httpu.NewHTTPUClient()
}

// searchMX is the MX header for a listen window. TVs spread replies over
// MX seconds, so it stays at least a second inside the window.
func searchMX(wait time.Duration) int {
	mx := int((wait - time.Second) / time.Second)
	return min(max(mx, 1), 5)
}

// Search sends every target at once, each on its own socket, and collects
// replies on all of them until wait elapses or ctx is done.
func (c *SSDPClient) Search(ctx context.Context, targets []string, wait time.Duration) ([]SSDPResponse, error) {
	dest := c.Addr
	if dest == "" {
		dest = ssdpMulticastAddr
	}
	sends := c.Sends
	if sends < 1 {
		sends = 2
	}
	mx := strconv.Itoa(searchMX(wait))

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	clients := make([]*httpu.HTTPUClient, 0, len(targets))
	defer func() {
		for _, cl := range clients {
			cl.Close()
		}
	}()
	for range targets {
		cl, err := c.open()
		if err != nil {
			return nil, fmt.Errorf("open ssdp socket: %w", err)
		}
		clients = append(clients, cl)
	}

	var (
		mu  sync.Mutex
		all []*http.Response
		g   errgroup.Group
	)
	for i, st := range targets {
		req := (&http.Request{
			Method: "M-SEARCH",
			URL:    &url.URL{Opaque: "*"},
			Host:   dest,
			Header: http.Header{
				"HOST": {dest},
				"MAN":  {`"ssdp:discover"`},
				"MX":   {mx},
				"ST":   {st},
			},
		}).WithContext(ctx)
		g.Go(func() error {
			resps, err := clients[i].DoWithContext(req, sends)
			mu.Lock()
			all = append(all, resps...)
			mu.Unlock()
			if err != nil && !isClosedConn(err) {
				return fmt.Errorf("ssdp search %s: %w", st, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return toSSDP(all), err
}

func toSSDP(resps []*http.Response) []SSDPResponse {
	out := make([]SSDPResponse, 0, len(resps))
	for _, r := range resps {
		if r == nil {
			continue
		}
		out = append(out, responseFromHTTP(r))
		if r.Body != nil {
			r.Body.Close()
		}
	}
	return out
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
