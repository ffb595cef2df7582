package discovery

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	l4g "github.com/alecthomas/log4go"
)

// ErrMetaServer wraps a non OK answer from the meta server.
var ErrMetaServer = errors.New("meta server error")

const metaResponseLimit = 64 << 10

// MetaServerClient registers a hosted game with a meta server and lists
// the games registered there. Requests are GET queries with a command
// parameter; answers are "OK" or, for list, one tab separated game per
// line: addr, name, version, numPlayers, maxPlayers, started.
type MetaServerClient struct {
	url     string
	client  *http.Client
	refresh time.Duration
	secret  string

	mu    sync.Mutex
	games []GameInfo

	latest chan GameInfo
	done   chan struct{}
	wg     sync.WaitGroup
}

var (
	_ Announcer = (*MetaServerClient)(nil)
	_ Finder    = (*MetaServerClient)(nil)
)

// NewMetaServerClient talks to serverURL. A registered game is refreshed
// every refresh interval.
func NewMetaServerClient(serverURL string, refresh time.Duration) *MetaServerClient {
	return &MetaServerClient{
		url:     serverURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		refresh: refresh,
		secret:  strconv.FormatInt(time.Now().UnixNano(), 36),
	}
}

func (c *MetaServerClient) query(ctx context.Context, command string, info *GameInfo) (string, error) {
	q := url.Values{}
	q.Set("command", command)
	if nil != info {
		port, err := portOf(info.Addr)
		if nil != err {
			return "", err
		}
		q.Set("port", strconv.Itoa(port))
		q.Set("secret", c.secret)
		q.Set("gamename", info.Name)
		q.Set("gameversion", info.Version)
		q.Set("numplayers", strconv.Itoa(info.NumPlayers))
		q.Set("maxplayers", strconv.Itoa(info.MaxPlayers))
		q.Set("started", strconv.FormatBool(info.Started))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+q.Encode(), nil)
	if nil != err {
		return "", errors.Wrap(err, "meta server request")
	}
	resp, err := c.client.Do(req)
	if nil != err {
		return "", errors.Wrapf(err, "meta server %s", command)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, metaResponseLimit))
	if nil != err {
		return "", errors.Wrapf(err, "meta server %s", command)
	}
	if http.StatusOK != resp.StatusCode {
		return "", errors.Wrapf(ErrMetaServer, "%s: http %d", command, resp.StatusCode)
	}
	return string(body), nil
}

func (c *MetaServerClient) call(ctx context.Context, command string, info GameInfo) error {
	body, err := c.query(ctx, command, &info)
	if nil != err {
		return err
	}
	if msg := strings.TrimSpace(body); "OK" != msg {
		return errors.Wrapf(ErrMetaServer, "%s: %s", command, msg)
	}
	return nil
}

// Start registers the game and keeps it registered from a background
// worker until Stop.
func (c *MetaServerClient) Start(info GameInfo) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()
	if err := c.call(ctx, "add", info); nil != err {
		return err
	}
	c.latest = make(chan GameInfo, 1)
	c.done = make(chan struct{})
	c.wg.Add(1)
	go c.worker(info)
	l4g.Info("[discovery] registered %s with %s", info.Name, c.url)
	return nil
}

// Update replaces any not yet sent update.
func (c *MetaServerClient) Update(info GameInfo) {
	if nil == c.latest {
		return
	}
	select {
	case <-c.latest:
	default:
	}
	c.latest <- info
}

func (c *MetaServerClient) worker(info GameInfo) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
			if err := c.call(ctx, "remove", info); nil != err {
				l4g.Warn("[discovery] %v", err)
			}
			cancel()
			return
		case info = <-c.latest:
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
		if err := c.call(ctx, "update", info); nil != err {
			l4g.Warn("[discovery] %v", err)
		}
		cancel()
	}
}

// Stop unregisters the game.
func (c *MetaServerClient) Stop() {
	if nil == c.done {
		return
	}
	close(c.done)
	c.wg.Wait()
	c.done = nil
	c.latest = nil
}

// Refresh fetches the game list.
func (c *MetaServerClient) Refresh() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()
	body, err := c.query(ctx, "list", nil)
	if nil != err {
		return err
	}
	games, err := parseList(body)
	if nil != err {
		return err
	}
	c.mu.Lock()
	c.games = games
	c.mu.Unlock()
	return nil
}

func (c *MetaServerClient) Games() []GameInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]GameInfo(nil), c.games...)
}

func parseList(body string) ([]GameInfo, error) {
	sc := bufio.NewScanner(strings.NewReader(body))
	if !sc.Scan() || "OK" != strings.TrimSpace(sc.Text()) {
		return nil, errors.Wrapf(ErrMetaServer, "list: %q", strings.SplitN(body, "\n", 2)[0])
	}
	now := time.Now()
	var games []GameInfo
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if "" == line {
			continue
		}
		f := strings.Split(line, "\t")
		if len(f) < 6 {
			l4g.Debug("[discovery] skip list line %q", line)
			continue
		}
		if _, _, err := net.SplitHostPort(f[0]); nil != err {
			continue
		}
		num, _ := strconv.Atoi(f[3])
		maxPlayers, _ := strconv.Atoi(f[4])
		started, _ := strconv.ParseBool(f[5])
		games = append(games, GameInfo{
			Addr:       f[0],
			Name:       f[1],
			Version:    f[2],
			NumPlayers: num,
			MaxPlayers: maxPlayers,
			Started:    started,
			LastSeen:   now,
		})
	}
	sortGames(games)
	return games, sc.Err()
}
