package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/spacetelescope/catkit/thorlabs"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "mcls1.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:  ":8000",
		Nodes: []ObjSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `mcls1 communicates with Thorlabs MCLS1 laser sources and exposes an HTTP
interface to them.  This enables a server-client architecture, and the
clients can leverage the excellent HTTP libraries for any programming
language.

Usage:
	mcls1 <command>

Commands:
	run
	shell
	list
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `mcls1 is amenable to configuration via its .yml file.  For a primer on YAML,
see https://yaml.org/start.html

Without a configuration, the server will close immediately and display an
error that there are no nodes.

No two nodes can have the same Endpoint.

Each node requires an Addr, which is either a serial port name (Serial: true)
or host:port of a terminal server (Serial: false).  Alternatively, give a
DeviceID and the serial ports will be scanned for a USB device with a
matching serial number or product string.

With Mock: true the server runs against an emulated laser and never touches
hardware, which is useful for developing clients away from the bench.

The shell command opens an interactive session to the first node, reading
commands from standard input; type help at its prompt for the vocabulary,
exit to leave.

The list command prints the serial ports on this machine and what is
attached to each.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("mcls1 version %v\n", Version)
}

func listports() {
	ports, err := thorlabs.ListPorts()
	if err != nil {
		log.Fatal(err)
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return
	}
	for _, p := range ports {
		fmt.Printf("%s\t%s\n", p.Port, p.Device)
	}
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mux := BuildMux(c)
	log.Println("now listening for requests at", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "shell":
		shell()
		return
	case "list":
		listports()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
