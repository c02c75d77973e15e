package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/quince-project/quic"
	"github.com/quince-project/quic/transport"
)

func serverCommand(args []string) error {
	cmd := flag.NewFlagSet("server", flag.ExitOnError)
	listenAddr := cmd.String("listen", "0.0.0.0:4433", "listen on the given IP:port")
	certFile := cmd.String("cert", "", "TLS certificate file")
	keyFile := cmd.String("key", "", "TLS private key file")
	logLevel := cmd.Int("v", 2, "log verbose: 0=off 1=error 2=info 3=debug 4=trace")
	retry := cmd.Bool("retry", false, "require a stateless retry before accepting new connections")
	cmd.Parse(args)

	if *certFile == "" || *keyFile == "" {
		fmt.Fprintln(cmd.Output(), "Usage: quince server -cert <file> -key <file> [options]")
		cmd.PrintDefaults()
		return nil
	}
	cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
	if err != nil {
		return err
	}
	config := newConfig()
	config.TLS.Certificates = []tls.Certificate{cert}
	config.RetryRequired = *retry

	handler := serverHandler{}
	server := quic.NewServer(config)
	server.SetHandler(&handler)
	server.SetLogger(*logLevel, os.Stdout)
	if err := server.ListenAndServe(*listenAddr); err != nil {
		return err
	}
	log.Printf("listening on %s", *listenAddr)
	select {}
}

// serverHandler echoes every byte it reads back to the peer on the same
// stream, enough to exercise accept, stream I/O and close end to end.
type serverHandler struct{}

func (s *serverHandler) Serve(c quic.Conn, events []transport.Event) {
	for _, e := range events {
		switch e.Type {
		case quic.EventConnAccept:
			log.Printf("%s connected", c.RemoteAddr())
		case transport.EventStream:
			st := c.Stream(e.StreamID)
			if st == nil {
				continue
			}
			buf := make([]byte, 512)
			n, err := st.Read(buf)
			if n > 0 {
				st.Write(buf[:n])
			}
			if err != nil {
				st.Close()
			}
		case quic.EventConnClose:
			log.Printf("%s closed", c.RemoteAddr())
		}
	}
}
