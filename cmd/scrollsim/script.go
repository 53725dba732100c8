package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// runScript drives sim from line commands until in is exhausted:
//
//	connect | disconnect | alert | readvertise
//	trigger [n]
//	write <text>
//	fail-advertise on|off
//	mtu <n>
//	status
func runScript(sim *Sim, in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := runCommand(sim, line, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func runCommand(sim *Sim, line string, out io.Writer) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "connect":
		id, ok := sim.Connect()
		if !ok {
			return fmt.Errorf("not accepting connections")
		}
		fmt.Fprintf(out, "connected %d\n", id)
	case "disconnect":
		id, ok := sim.DisconnectOldest()
		if !ok {
			return fmt.Errorf("no connections")
		}
		fmt.Fprintf(out, "disconnected %d\n", id)
	case "trigger":
		n := 1
		if arg != "" {
			v, err := strconv.Atoi(arg)
			if err != nil || v < 1 {
				return fmt.Errorf("trigger: bad count %q", arg)
			}
			n = v
		}
		if !sim.Trigger(n) {
			return fmt.Errorf("trigger queue full")
		}
	case "write":
		return sim.Write(arg)
	case "alert":
		fmt.Fprintf(out, "alert %v\n", sim.ToggleAlert())
	case "readvertise":
		sim.Readvertise()
	case "fail-advertise":
		sim.SetFailAdvertise(arg == "on")
	case "mtu":
		v, err := strconv.ParseUint(arg, 10, 16)
		if err != nil {
			return fmt.Errorf("mtu: bad value %q", arg)
		}
		if !sim.ExchangeMTU(uint16(v)) {
			return fmt.Errorf("no connections")
		}
	case "status":
		st := sim.Sys.Server.Status()
		fmt.Fprintf(out, "phase=%s adv=%v conns=%d active=%v text=%q\n",
			st.State.Phase, st.State.Advertising, st.State.Connections, st.Active, sim.Sys.Loop.Text())
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
