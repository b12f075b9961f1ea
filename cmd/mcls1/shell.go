package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/theckman/yacspin"

	"github.com/spacetelescope/catkit/thorlabs"
)

const shellHelp = `commands:
	channel <1-4>    select the active channel
	current <mA>     set the active channel's current
	enable <0|1>     enable or disable the active channel
	system <0|1>     master emission enable
	target <C>       set the active channel's target temperature
	step <mA>        set the current adjustment step size
	get <what>       query; what is one of channel, current, enable,
	                 system, target, temp, power, step, id, specs
	status           print the decoded status word
	save             persist settings to nonvolatile memory
	raw <cmd>        send a raw command and print the reply
	help             print this text
	exit             leave the shell`

func connectSpinner(node ObjSetup, mock bool) *thorlabs.MCLS1 {
	cfg := yacspin.Config{
		Frequency:     100 * time.Millisecond,
		CharSet:       yacspin.CharSets[14],
		Suffix:        " connecting to " + node.Endpoint,
		StopCharacter: "✓",
		StopColors:    []string{"fgGreen"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	ctl, err := makeLaser(node, mock)
	if err != nil {
		spinner.StopFail()
		log.Fatal(err)
	}
	// make sure the device answers before declaring victory
	if _, err := ctl.ID(); err != nil {
		spinner.StopFail()
		log.Fatal(err)
	}
	spinner.Stop()
	return ctl
}

func shellQuery(ctl *thorlabs.MCLS1, what string) (string, error) {
	switch what {
	case "channel":
		i, err := ctl.GetActiveChannel()
		return strconv.Itoa(i), err
	case "current":
		f, err := ctl.GetCurrent()
		return fmt.Sprintf("%.2f mA", f), err
	case "enable":
		b, err := ctl.GetEnabled()
		return strconv.FormatBool(b), err
	case "system":
		b, err := ctl.GetEmission()
		return strconv.FormatBool(b), err
	case "target":
		f, err := ctl.GetTargetTemp()
		return fmt.Sprintf("%.1f C", f), err
	case "temp":
		f, err := ctl.GetTemp()
		return fmt.Sprintf("%.1f C", f), err
	case "power":
		f, err := ctl.GetPower()
		return fmt.Sprintf("%.2f mW", f), err
	case "step":
		f, err := ctl.GetStep()
		return fmt.Sprintf("%.2f mA", f), err
	case "id":
		return ctl.ID()
	case "specs":
		return ctl.Specs()
	default:
		return "", fmt.Errorf("unknown query %q", what)
	}
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "0", "off", "false":
		return false, nil
	case "1", "on", "true":
		return true, nil
	}
	return false, fmt.Errorf("expected 0 or 1, got %q", s)
}

func shell() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	if len(c.Nodes) == 0 {
		log.Fatal("no nodes provided in config file")
	}
	node := c.Nodes[0]
	ctl := connectSpinner(node, c.Mock)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		pieces := strings.Fields(line)
		if len(pieces) == 0 {
			fmt.Print("> ")
			continue
		}
		verb := strings.ToLower(pieces[0])
		args := pieces[1:]
		if verb == "exit" || verb == "quit" {
			return
		}
		err := oneShellCmd(ctl, verb, args)
		if err != nil {
			fmt.Println("error:", err)
		}
		fmt.Print("> ")
	}
}

func oneShellCmd(ctl *thorlabs.MCLS1, verb string, args []string) error {
	needArg := func() error {
		if len(args) == 0 {
			return fmt.Errorf("%s requires an argument", verb)
		}
		return nil
	}
	switch verb {
	case "help":
		fmt.Println(shellHelp)
		return nil
	case "channel":
		if err := needArg(); err != nil {
			return err
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return ctl.SetActiveChannel(i)
	case "current":
		if err := needArg(); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		return ctl.SetCurrent(f)
	case "enable":
		if err := needArg(); err != nil {
			return err
		}
		b, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return ctl.SetEnabled(b)
	case "system":
		if err := needArg(); err != nil {
			return err
		}
		b, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return ctl.SetEmission(b)
	case "target":
		if err := needArg(); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		return ctl.SetTargetTemp(f)
	case "step":
		if err := needArg(); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		return ctl.SetStep(f)
	case "get":
		if err := needArg(); err != nil {
			return err
		}
		s, err := shellQuery(ctl, strings.ToLower(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(s)
		return nil
	case "status":
		m, err := ctl.Status()
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(m))
		for key := range m {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("%-20s %v\n", key, m[key])
		}
		return nil
	case "save":
		return ctl.Save()
	case "raw":
		if err := needArg(); err != nil {
			return err
		}
		resp, err := ctl.Raw(strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	}
	return fmt.Errorf("unknown command %q, try help", verb)
}
