package services

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"market_values_backend/models"
	"market_values_backend/services/brokerfeed"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeed implements brokerfeed.Feed in-process.
type fakeFeed struct {
	mu           sync.Mutex
	token        string
	connected    bool
	disconnected bool
	connectErr   error
	subscribed   [][]string

	onMessage func([]byte)
	onClose   func()
}

func (f *fakeFeed) Connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeFeed) Subscribe(instrumentKeys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, instrumentKeys)
	return nil
}

func (f *fakeFeed) Disconnect() {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakeFeed) OnMessage(h func(data []byte)) { f.onMessage = h }
func (f *fakeFeed) OnError(h func(err error))     {}
func (f *fakeFeed) OnClose(h func())              { f.onClose = h }

func (f *fakeFeed) push(data []byte) {
	if f.onMessage != nil {
		f.onMessage(data)
	}
}

func (f *fakeFeed) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

// fakeListener records fan-out messages; Send can be made to fail.
type fakeListener struct {
	mu       sync.Mutex
	received []StreamMessage
	sendErr  error
}

func (l *fakeListener) Send(msg StreamMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.received = append(l.received, msg)
	return nil
}

func (l *fakeListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.received)
}

// feedTracker hands out fake feeds and remembers every one created.
type feedTracker struct {
	mu    sync.Mutex
	feeds []*fakeFeed
}

func (t *feedTracker) factory(accessToken string) brokerfeed.Feed {
	t.mu.Lock()
	defer t.mu.Unlock()
	feed := &fakeFeed{token: accessToken}
	t.feeds = append(t.feeds, feed)
	return feed
}

func (t *feedTracker) created() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.feeds)
}

func TestConnectListenerSharesOneFeedPerUser(t *testing.T) {
	tracker := &feedTracker{}
	mgr := NewBrokerStreamManager(tracker.factory)

	l1, l2 := &fakeListener{}, &fakeListener{}
	require.NoError(t, mgr.ConnectListener(7, "token-7", l1))
	require.NoError(t, mgr.ConnectListener(7, "token-7", l2))

	assert.Equal(t, 1, tracker.created(), "second listener must reuse the user's feed")
	assert.Equal(t, 1, mgr.SessionCount())
	assert.Equal(t, 2, mgr.ListenerCount(7))
	assert.Equal(t, "token-7", tracker.feeds[0].token)
}

func TestDistinctUsersGetDistinctFeeds(t *testing.T) {
	tracker := &feedTracker{}
	mgr := NewBrokerStreamManager(tracker.factory)

	require.NoError(t, mgr.ConnectListener(1, "token-1", &fakeListener{}))
	require.NoError(t, mgr.ConnectListener(2, "token-2", &fakeListener{}))

	assert.Equal(t, 2, tracker.created())
	assert.Equal(t, 2, mgr.SessionCount())
}

func TestConnectFailureLeavesNoSession(t *testing.T) {
	mgr := NewBrokerStreamManager(func(string) brokerfeed.Feed {
		return &fakeFeed{connectErr: errors.New("handshake rejected")}
	})

	err := mgr.ConnectListener(7, "token-7", &fakeListener{})
	require.Error(t, err)
	assert.Equal(t, 0, mgr.SessionCount())
}

func TestLastListenerOutTearsDownFeed(t *testing.T) {
	tracker := &feedTracker{}
	mgr := NewBrokerStreamManager(tracker.factory)

	l1, l2 := &fakeListener{}, &fakeListener{}
	require.NoError(t, mgr.ConnectListener(7, "token-7", l1))
	require.NoError(t, mgr.ConnectListener(7, "token-7", l2))

	mgr.DisconnectListener(7, l1)
	assert.Equal(t, 1, mgr.SessionCount(), "session survives while a listener remains")
	assert.False(t, tracker.feeds[0].isDisconnected())

	mgr.DisconnectListener(7, l2)
	assert.Equal(t, 0, mgr.SessionCount())
	assert.True(t, tracker.feeds[0].isDisconnected())

	// A returning listener gets a fresh feed
	require.NoError(t, mgr.ConnectListener(7, "token-7", &fakeListener{}))
	assert.Equal(t, 2, tracker.created())
}

func TestFanOutReachesEveryListener(t *testing.T) {
	tracker := &feedTracker{}
	mgr := NewBrokerStreamManager(tracker.factory)

	l1, l2 := &fakeListener{}, &fakeListener{}
	require.NoError(t, mgr.ConnectListener(7, "token-7", l1))
	require.NoError(t, mgr.ConnectListener(7, "token-7", l2))

	tracker.feeds[0].push([]byte(`{"ltp":101.5}`))

	require.Equal(t, 1, l1.count())
	require.Equal(t, 1, l2.count())

	l1.mu.Lock()
	msg := l1.received[0]
	l1.mu.Unlock()
	assert.Equal(t, "market_data", msg.Type)
	assert.Equal(t, json.RawMessage(`{"ltp":101.5}`), msg.Data)
}

func TestFanOutPrunesFailedListener(t *testing.T) {
	tracker := &feedTracker{}
	mgr := NewBrokerStreamManager(tracker.factory)

	healthy := &fakeListener{}
	broken := &fakeListener{sendErr: errors.New("write on closed connection")}
	require.NoError(t, mgr.ConnectListener(7, "token-7", broken))
	require.NoError(t, mgr.ConnectListener(7, "token-7", healthy))

	tracker.feeds[0].push([]byte(`{"ltp":1}`))

	assert.Equal(t, 1, healthy.count(), "healthy listener still receives the frame")
	assert.Equal(t, 1, mgr.ListenerCount(7), "failed listener is pruned")
}

func TestSubscribeWithoutSessionErrors(t *testing.T) {
	mgr := NewBrokerStreamManager((&feedTracker{}).factory)

	err := mgr.Subscribe(7, []string{"NSE_EQ|INE009A01021"})
	require.Error(t, err)
	assert.Equal(t, 0, mgr.SessionCount(), "subscribe must not create a session")
}

func TestSubscribeForwardsToFeed(t *testing.T) {
	tracker := &feedTracker{}
	mgr := NewBrokerStreamManager(tracker.factory)
	require.NoError(t, mgr.ConnectListener(7, "token-7", &fakeListener{}))

	keys := []string{"NSE_EQ|INE009A01021", "NSE_EQ|INE467B01029"}
	require.NoError(t, mgr.Subscribe(7, keys))

	tracker.feeds[0].mu.Lock()
	defer tracker.feeds[0].mu.Unlock()
	require.Len(t, tracker.feeds[0].subscribed, 1)
	assert.Equal(t, keys, tracker.feeds[0].subscribed[0])
}

func TestFeedCloseDropsSession(t *testing.T) {
	tracker := &feedTracker{}
	mgr := NewBrokerStreamManager(tracker.factory)
	require.NoError(t, mgr.ConnectListener(7, "token-7", &fakeListener{}))

	tracker.feeds[0].onClose()

	assert.Equal(t, 0, mgr.SessionCount())

	// Next connect starts a fresh session instead of joining a dead one
	require.NoError(t, mgr.ConnectListener(7, "token-7", &fakeListener{}))
	assert.Equal(t, 2, tracker.created())
}

func TestConcurrentConnectsCreateOneFeed(t *testing.T) {
	tracker := &feedTracker{}
	mgr := NewBrokerStreamManager(tracker.factory)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, mgr.ConnectListener(7, "token-7", &fakeListener{}))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, tracker.created())
	assert.Equal(t, 16, mgr.ListenerCount(7))
}

func TestDBTokenSource(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.BrokerToken{UserID: 9, AccessToken: "upstox-token"}).Error)
	source := NewDBTokenSource(db)

	token, err := source.AccessToken(9)
	require.NoError(t, err)
	assert.Equal(t, "upstox-token", token)

	_, err = source.AccessToken(10)
	assert.Error(t, err)
}
