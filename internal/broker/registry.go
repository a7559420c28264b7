package broker

import "sync"

// Registry holds the process-wide view of live peers plus the
// consumer-to-producer directory.
//
// Directory entries are never cleared when a producer dies; readers filter
// them by checking that the producer is still registered.
type Registry struct {
	mu                   sync.Mutex
	peers                map[string]*Peer
	consumersToProducers map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		peers:                make(map[string]*Peer),
		consumersToProducers: make(map[string]string),
	}
}

func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID] = p
}

func (r *Registry) Get(id string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[id]
	return ok
}

// Remove reports whether the peer was still registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[id]
	delete(r.peers, id)
	return ok
}

func (r *Registry) SetProducerFor(consumerID, producerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumersToProducers[consumerID] = producerID
}

func (r *Registry) ProducerFor(consumerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.consumersToProducers[consumerID]
	return id, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
