package main

import (
	"fmt"
	"log"
	"net/http"
	"sort"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/spacetelescope/catkit/generichttp"
	"github.com/spacetelescope/catkit/generichttp/ascii"
	"github.com/spacetelescope/catkit/generichttp/laser"
	"github.com/spacetelescope/catkit/server/middleware/locker"
	"github.com/spacetelescope/catkit/thorlabs"
)

// ObjSetup holds the typical triplet of values for a node,
// the address it listens at, and the URL it listens on
type ObjSetup struct {
	// Addr is the location to listen at, either a serial port name or
	// host:port of a terminal server
	Addr string `yaml:"Addr"`

	// DeviceID selects the device by USB serial number or product string
	// instead of Addr
	DeviceID string `yaml:"DeviceID"`

	// Endpoint is the endpoint to expose the device on
	Endpoint string `yaml:"Endpoint"`

	// Serial determines if the connection is serial/RS-232 (true) or TCP (false)
	Serial bool `yaml:"Serial"`
}

// Config is a struct that holds the initialization parameters for the server
type Config struct {
	Addr  string     `yaml:"Addr"`
	Mock  bool       `yaml:"Mock"`
	Nodes []ObjSetup `yaml:"Nodes"`
}

func makeLaser(s ObjSetup, mock bool) (*thorlabs.MCLS1, error) {
	if mock {
		ctl, _ := thorlabs.NewEmulatedMCLS1()
		return ctl, nil
	}
	if s.DeviceID != "" {
		return thorlabs.NewMCLS1ForDevice(s.DeviceID)
	}
	return thorlabs.NewMCLS1(s.Addr, s.Serial), nil
}

// BuildMux takes a config and builds the root SuperMux for the server
func BuildMux(c Config) chi.Router {
	if len(c.Nodes) == 0 {
		log.Fatal("no nodes provided in config file")
	}
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}
	for _, node := range c.Nodes {
		ctl, err := makeLaser(node, c.Mock)
		if err != nil {
			log.Fatal(err)
		}
		httper := laser.NewHTTPLaserController(ctl)
		ascii.InjectRawComm(httper.RT(), ctl)
		lock := locker.New()
		locker.Inject(httper, lock)

		stem := generichttp.SubMuxSanitize(node.Endpoint)
		supergraph[stem] = httper.RT().Endpoints()
		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(stem, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		stems := make([]string, 0, len(supergraph))
		for stem := range supergraph {
			stems = append(stems, stem)
		}
		sort.Strings(stems)
		for _, stem := range stems {
			for _, route := range supergraph[stem] {
				fmt.Fprintln(w, stem+route)
			}
		}
	})
	return root
}
