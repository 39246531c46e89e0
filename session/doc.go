// Package session drives the engine and the client modules.
//
// A Session owns one engine, one AV engine, the shared lock and a module
// for each concern. Every Tick holds the lock across the engine iteration,
// the connectivity probe and the module updates, which run in a fixed
// order: presence, messaging, group, file, av.
//
//	s, err := session.New(network.Factory(), session.Options{
//	    Bootstrap:   nodes,
//	    ProfilePath: "profile.tox",
//	})
//	if err != nil {
//	    return err // only engine construction is fatal
//	}
//	s.Subscribe(func(ev module.Event) { log.Println(ev.EventName()) })
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	defer s.Close()
//
// Run re-arms its timer from IterationInterval after every tick, so the
// engine decides the pace. Bootstrap nodes are tried in order, or shuffled,
// until one is accepted; if none is, the session keeps running offline.
package session
