// Package beep runs BEEP sessions over a transport connection.
//
// A Peer wires the pieces of the stack together for one connection: the
// transport.Conn carrying the bytes, the mapping that sequences frames and
// enforces flow control, and the session state machine. Its Run method is
// the read loop of the connection.
//
// # Listening
//
//	ln, err := transport.NewTCPListener(transport.TCPConfig{ListenAddr: ":10288"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := beep.NewServer(beep.ServerConfig{
//	    Listener:   ln,
//	    NewHandler: func(conn *transport.Conn) session.Handler { return &myHandler{} },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = srv.Serve(ctx)
//
// # Connecting
//
//	peer, err := beep.DialTCP(ctx, "example.com:10288", beep.Config{Handler: h})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go peer.Run(ctx)
//
// The handler's SessionOpened callback fires once both greetings have been
// exchanged. Channels are started with Session().StartChannel.
package beep
