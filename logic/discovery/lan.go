package discovery

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/types/known/structpb"

	l4g "github.com/alecthomas/log4go"
)

const (
	// DefaultLANPort is the UDP port announcements are broadcast to.
	DefaultLANPort = 28748
	lanMarker      = "dunelockstep-lan-1"
	maxDatagram    = 1024
)

// LANBroadcastAddr is the default announcement target.
var LANBroadcastAddr = net.JoinHostPort("255.255.255.255", strconv.Itoa(DefaultLANPort))

func encodeAnnouncement(info GameInfo, closing bool) ([]byte, error) {
	port, err := portOf(info.Addr)
	if nil != err {
		return nil, err
	}
	st, err := structpb.NewStruct(map[string]interface{}{
		"proto":      lanMarker,
		"name":       info.Name,
		"port":       float64(port),
		"version":    info.Version,
		"numPlayers": float64(info.NumPlayers),
		"maxPlayers": float64(info.MaxPlayers),
		"started":    info.Started,
		"closing":    closing,
	})
	if nil != err {
		return nil, errors.Wrap(err, "announcement")
	}
	return proto.Marshal(st)
}

// decodeAnnouncement parses a datagram from sender. ok is false for
// foreign traffic.
func decodeAnnouncement(b []byte, sender net.IP) (info GameInfo, closing, ok bool) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(b, st); nil != err {
		return GameInfo{}, false, false
	}
	f := st.GetFields()
	if lanMarker != f["proto"].GetStringValue() {
		return GameInfo{}, false, false
	}
	port := int(f["port"].GetNumberValue())
	if port <= 0 || port > 65535 {
		return GameInfo{}, false, false
	}
	info = GameInfo{
		Name:       f["name"].GetStringValue(),
		Addr:       net.JoinHostPort(sender.String(), strconv.Itoa(port)),
		Version:    f["version"].GetStringValue(),
		NumPlayers: int(f["numPlayers"].GetNumberValue()),
		MaxPlayers: int(f["maxPlayers"].GetNumberValue()),
		Started:    f["started"].GetBoolValue(),
	}
	return info, f["closing"].GetBoolValue(), true
}

func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if nil != err {
		return 0, errors.Wrapf(err, "game address %q", addr)
	}
	port, err := strconv.Atoi(p)
	if nil != err {
		return 0, errors.Wrapf(err, "game address %q", addr)
	}
	return port, nil
}

// LANAnnouncer periodically broadcasts the hosted game.
type LANAnnouncer struct {
	target   string
	interval time.Duration

	mu      sync.Mutex
	info    GameInfo
	conn    *net.UDPConn
	limiter *rate.Limiter
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ Announcer = (*LANAnnouncer)(nil)

// NewLANAnnouncer announces to target ("host:port") every interval.
func NewLANAnnouncer(target string, interval time.Duration) *LANAnnouncer {
	if "" == target {
		target = LANBroadcastAddr
	}
	return &LANAnnouncer{
		target:   target,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		wake:     make(chan struct{}, 1),
	}
}

func (a *LANAnnouncer) Start(info GameInfo) error {
	raddr, err := net.ResolveUDPAddr("udp4", a.target)
	if nil != err {
		return errors.Wrapf(err, "resolve %s", a.target)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if nil != err {
		return errors.Wrapf(err, "dial %s", a.target)
	}

	a.mu.Lock()
	a.info = info
	a.conn = conn
	a.done = make(chan struct{})
	a.mu.Unlock()

	a.wg.Add(1)
	go a.loop()
	l4g.Info("[discovery] announcing %s on %s", info.Name, a.target)
	return nil
}

// Update changes the advertised info. The next broadcast goes out as soon
// as the limiter allows.
func (a *LANAnnouncer) Update(info GameInfo) {
	a.mu.Lock()
	a.info = info
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Stop broadcasts a closing notice and ends the announcer.
func (a *LANAnnouncer) Stop() {
	a.mu.Lock()
	conn, done := a.conn, a.done
	a.conn = nil
	info := a.info
	a.mu.Unlock()
	if nil == conn {
		return
	}
	close(done)
	a.wg.Wait()
	if b, err := encodeAnnouncement(info, true); nil == err {
		_, _ = conn.Write(b)
	}
	conn.Close()
}

func (a *LANAnnouncer) loop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.broadcast()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
		case <-a.wake:
		}
		if a.limiter.Allow() {
			a.broadcast()
		}
	}
}

func (a *LANAnnouncer) broadcast() {
	a.mu.Lock()
	info, conn := a.info, a.conn
	a.mu.Unlock()
	if nil == conn {
		return
	}
	b, err := encodeAnnouncement(info, false)
	if nil != err {
		l4g.Warn("[discovery] %v", err)
		return
	}
	if _, err := conn.Write(b); nil != err {
		l4g.Debug("[discovery] broadcast: %v", err)
	}
}

// LANFinder listens for announcements. Entries not refreshed within ttl
// are dropped.
type LANFinder struct {
	ttl time.Duration

	mu    sync.Mutex
	games map[string]GameInfo
	conn  *net.UDPConn
	wg    sync.WaitGroup
}

var _ Finder = (*LANFinder)(nil)

// NewLANFinder binds listen (":28748" by default) and starts receiving.
func NewLANFinder(listen string, ttl time.Duration) (*LANFinder, error) {
	if "" == listen {
		listen = ":" + strconv.Itoa(DefaultLANPort)
	}
	laddr, err := net.ResolveUDPAddr("udp4", listen)
	if nil != err {
		return nil, errors.Wrapf(err, "resolve %s", listen)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if nil != err {
		return nil, errors.Wrapf(err, "listen %s", listen)
	}
	f := &LANFinder{
		ttl:   ttl,
		games: make(map[string]GameInfo),
		conn:  conn,
	}
	f.wg.Add(1)
	go f.readLoop()
	return f, nil
}

// Addr is the bound local address.
func (f *LANFinder) Addr() net.Addr {
	return f.conn.LocalAddr()
}

func (f *LANFinder) readLoop() {
	defer f.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := f.conn.ReadFromUDP(buf)
		if nil != err {
			return
		}
		info, closing, ok := decodeAnnouncement(buf[:n], from.IP)
		if !ok {
			continue
		}
		f.mu.Lock()
		if closing {
			delete(f.games, info.Addr)
		} else {
			info.LastSeen = time.Now()
			f.games[info.Addr] = info
		}
		f.mu.Unlock()
	}
}

// Refresh expires stale entries.
func (f *LANFinder) Refresh() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for addr, g := range f.games {
		if now.Sub(g.LastSeen) > f.ttl {
			delete(f.games, addr)
		}
	}
	return nil
}

func (f *LANFinder) Games() []GameInfo {
	f.mu.Lock()
	out := make([]GameInfo, 0, len(f.games))
	for _, g := range f.games {
		out = append(out, g)
	}
	f.mu.Unlock()
	sortGames(out)
	return out
}

func (f *LANFinder) Close() error {
	err := f.conn.Close()
	f.wg.Wait()
	return err
}
