package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RoanBrand/emqc"
	"github.com/RoanBrand/emqc/internal/store"
	"github.com/fatih/color"
	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
)

type program struct {
	client     emqc.Client
	configFlag string
	execDir    string

	inbox *store.Inbox
	done  chan struct{}
}

func (p *program) Start(s service.Service) error {
	if p.configFlag != "" {
		if err := p.client.LoadFromFile(p.configFlag); err != nil {
			return err
		}
		log.Infoln("Using config file:", p.configFlag)
	} else {
		toTry := filepath.Join(p.execDir, "config.json")
		if fileExists(toTry) {
			if err := p.client.LoadFromFile(toTry); err != nil {
				return err
			}
			log.Infoln("Using config file:", toTry)
		} else {
			log.Infoln("No config file specified or found. Using defaults.")
		}
	}

	if p.client.Broker.Address == "" {
		p.client.Broker.Address = "localhost" // local broker if nothing specified.
	}

	if dir := p.client.Store.Dir; dir != "" {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(p.execDir, dir)
		}
		inbox, err := store.NewInbox(dir)
		if err != nil {
			return err
		}
		p.inbox = inbox
		log.Infoln("Recording received messages in:", dir)
	}

	for _, sub := range p.client.Subscriptions {
		if !p.client.Subscribe(sub.Topic, emqc.QoS(sub.QoS)) {
			log.WithField("topic", sub.Topic).Warn("could not subscribe")
		}
	}

	msgs := p.client.Messages()
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		if err := p.client.Run(); err != nil {
			log.Fatal(err)
		}
	}()
	go p.sink(msgs)
	return nil
}

// sink prints and records received messages.
func (p *program) sink(msgs <-chan emqc.Message) {
	for m := range msgs {
		now := time.Now()
		if p.client.Console {
			fmt.Println(
				color.GreenString(now.Format("2006-01-02T15:04:05")),
				color.CyanString(m.Topic),
				color.YellowString("QoS%d", m.QoS),
				string(m.Payload),
			)
		}
		if p.inbox != nil {
			if err := p.inbox.Put(m, now); err != nil {
				log.WithError(err).Error("could not record message")
			}
		}
	}
}

func (p *program) Stop(s service.Service) error {
	p.client.Shutdown()
	if p.done != nil {
		<-p.done
	}
	if p.inbox != nil {
		return p.inbox.Close()
	}
	return nil
}

func main() {
	svcFlag := flag.String("service", "", "Control the system service.")
	cnfFlag := flag.String("c", "", "Path of config file.")
	flag.Parse()

	ePath, err := os.Executable()
	if err != nil {
		log.Fatal(err)
	}
	eDir, _ := filepath.Split(ePath)

	// Set defaults before config override.
	if service.Interactive() {
		log.SetLevel(log.DebugLevel)
	} else {
		f, err := os.OpenFile(filepath.Join(eDir, "emqc.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		log.SetOutput(f)
	}

	prg := program{configFlag: *cnfFlag, execDir: eDir}
	svcConfig := service.Config{
		Name:        "emqc",
		DisplayName: "emqc MQTT client",
		Description: "emqc MQTT client agent. Keeps a session with an MQTT broker and records received messages.",
	}

	s, err := service.New(&prg, &svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	if len(*svcFlag) != 0 {
		err := service.Control(s, *svcFlag)
		if err != nil {
			log.Printf("Valid actions: %q\n", service.ControlAction)
			log.Fatal(err)
		}
		return
	}

	err = s.Run()
	if err != nil {
		log.Fatal(err)
	}
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}
