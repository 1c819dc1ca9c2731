package hostctx

import "sync"

type consensusKey struct {
	clientID string
	height   Height
}

// MemoryContext is an in-memory ReaderContext, suitable for tests and for
// embedding this client in a single process without a durable store.
type MemoryContext struct {
	mu sync.Mutex

	nowNs  int64
	height Height

	consensusStates map[consensusKey]interface{}
	clientStates    map[string]interface{}
	processedTime   map[consensusKey]int64
	processedHeight map[consensusKey]Height
}

// NewMemoryContext returns a MemoryContext initialized at the given host
// timestamp/height.
func NewMemoryContext(nowNs int64, height Height) *MemoryContext {
	return &MemoryContext{
		nowNs:           nowNs,
		height:          height,
		consensusStates: make(map[consensusKey]interface{}),
		clientStates:    make(map[string]interface{}),
		processedTime:   make(map[consensusKey]int64),
		processedHeight: make(map[consensusKey]Height),
	}
}

// AdvanceTime moves the host clock and height forward; used by tests to
// simulate host progress between client operations.
func (m *MemoryContext) AdvanceTime(nowNs int64, height Height) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowNs = nowNs
	m.height = height
}

func (m *MemoryContext) HostTimestamp() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowNs
}

func (m *MemoryContext) HostHeight() Height {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height
}

func (m *MemoryContext) ConsensusState(clientID string, height Height) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.consensusStates[consensusKey{clientID, height}]
	if !ok {
		return nil, errConsensusStateNotFound{clientID: clientID, height: height}
	}
	return v, nil
}

func (m *MemoryContext) MaybeConsensusState(clientID string, height Height) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.consensusStates[consensusKey{clientID, height}]
	return v, ok
}

func (m *MemoryContext) StoreConsensusState(clientID string, height Height, state interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consensusStates[consensusKey{clientID, height}] = state
}

func (m *MemoryContext) StoreClientState(clientID string, state interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientStates[clientID] = state
}

func (m *MemoryContext) ClientState(clientID string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.clientStates[clientID]
	return v, ok
}

func (m *MemoryContext) SetProcessedTime(clientID string, height Height, timestampNs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processedTime[consensusKey{clientID, height}] = timestampNs
}

func (m *MemoryContext) GetProcessedTime(clientID string, height Height) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.processedTime[consensusKey{clientID, height}]
	return v, ok
}

func (m *MemoryContext) SetProcessedHeight(clientID string, height Height, processedAt Height) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processedHeight[consensusKey{clientID, height}] = processedAt
}

func (m *MemoryContext) GetProcessedHeight(clientID string, height Height) (Height, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.processedHeight[consensusKey{clientID, height}]
	return v, ok
}

type errConsensusStateNotFound struct {
	clientID string
	height   Height
}

func (e errConsensusStateNotFound) Error() string {
	return "hostctx: no consensus state for client " + e.clientID + " at height " + e.height.String()
}
