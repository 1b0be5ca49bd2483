package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"peabody.computer/peabody/flags"
	"peabody.computer/peabody/peabodyserver"
)

func setupLogging(level string) {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	l, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Fatalf("invalid log level: %s", err)
	}
	logrus.SetLevel(l)
}

func main() {
	logrus.SetLevel(logrus.InfoLevel)
	f, err := flags.ParseServerArgs(os.Args)
	if err != nil {
		logrus.Error(err)
		os.Exit(2)
	}
	sc, err := flags.LoadServerConfigFromFlags(f)
	if err != nil {
		logrus.Fatalf("error loading config: %s", err)
	}
	setupLogging(sc.LogLevel)

	s, err := peabodyserver.NewPeabodyServer(sc)
	if err != nil {
		logrus.Fatal(err)
	}
	sch := make(chan os.Signal, 1)
	signal.Notify(sch, os.Interrupt, syscall.SIGTERM)
	served := make(chan error, 1)
	go func() {
		served <- s.Serve()
	}()

	select {
	case sig := <-sch:
		logrus.Infof("received %s, shutting down", sig)
		s.Close()
		err = <-served
	case err = <-served:
	}
	if err != nil {
		logrus.Fatal(err)
	}
}
