// Package dashboard serves the browser view of fetch cycles: the bug table,
// graph exports, cycle history and a live event stream.
package dashboard

// Dashboard ties together all dashboard components.
type Dashboard struct {
	Server  *Server
	Store   *Store
	Hub     *Hub
	Emitter *Emitter
}

// New creates a dashboard. Pass Emitter to the controller as its Notifier,
// StatusReporter and Observer, then Attach the controller.
func New(config *Config) *Dashboard {
	if config == nil {
		config = DefaultConfig()
	}
	store := NewStore()
	hub := NewHub(config.Metrics)
	emitter := NewEmitter(store, hub)
	server := NewServer(config, store, hub)

	return &Dashboard{
		Server:  server,
		Store:   store,
		Hub:     hub,
		Emitter: emitter,
	}
}

// Attach connects the server and emitter to the controller.
func (d *Dashboard) Attach(cycles Cycles) {
	d.Server.Attach(cycles)
	d.Emitter.Bind(cycles)
}
