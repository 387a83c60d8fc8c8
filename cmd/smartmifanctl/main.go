// Command smartmifanctl is a demo console for driving the fan
// orchestrator interactively: discover devices, inspect participation
// state, and issue power/speed commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"

	"github.com/mLihs/SmartMiFanAsync/config"
	"github.com/mLihs/SmartMiFanAsync/fan"
	"github.com/mLihs/SmartMiFanAsync/netudp"
)

type console struct {
	registry *fan.Registry
	orch     *fan.Orchestrator
	disc     *fan.Discovery
	fc       *fan.FastConnect
	cfg      *config.Config
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	level := slog.LevelInfo
	if *debug || cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	endpoint, err := netudp.Bind()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bind:", err)
		os.Exit(1)
	}
	defer endpoint.Close()

	registry := fan.NewRegistry()
	c := &console{
		registry: registry,
		orch:     fan.NewOrchestrator(endpoint, registry),
		disc:     fan.NewDiscovery(endpoint, registry),
		fc:       fan.NewFastConnect(endpoint, registry),
		cfg:      cfg,
	}
	c.orch.SetErrorCallback(func(info fan.FanErrorInfo) {
		slog.Warn("fan error", "index", info.FanIndex, "ip", info.IP, "op", info.Op, "err", info.Err)
	})

	if cfg.FastConnect.Enabled {
		entries := make([]fan.FastConnectEntry, 0, len(cfg.FastConnect.Entries))
		for _, e := range cfg.FastConnect.Entries {
			entries = append(entries, fan.FastConnectEntry{IP: e.IP, Token: e.Token, Model: e.Model})
		}
		c.fc.SetConfig(entries)
	}

	p := prompt.New(c.execute, c.complete, prompt.OptionPrefix("smartmifan> "))
	p.Run()
}

func (c *console) complete(d prompt.Document) []prompt.Suggest {
	commands := []prompt.Suggest{
		{Text: "discover", Description: "broadcast discovery"},
		{Text: "list", Description: "list registry devices"},
		{Text: "power", Description: "power <index> on|off"},
		{Text: "speed", Description: "speed <index> <percent>"},
		{Text: "power_all", Description: "power_all on|off"},
		{Text: "speed_all", Description: "speed_all <percent>"},
		{Text: "health", Description: "health <index>"},
		{Text: "quit", Description: "exit"},
	}
	return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
}

func (c *console) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch fields[0] {
	case "discover":
		c.disc.Start(ctx, nil, time.Duration(c.cfg.Timing.DiscoveryMs)*time.Millisecond)
		c.disc.Wait()
		fmt.Printf("discovery finished: %s, %d devices\n", c.disc.State(), c.registry.Count())
	case "list":
		c.registry.Dump(os.Stdout)
	case "power":
		if len(fields) != 3 {
			fmt.Println("usage: power <index> on|off")
			return
		}
		i, _ := strconv.Atoi(fields[1])
		ok := c.orch.Power(ctx, i, fields[2] == "on")
		fmt.Println("ok:", ok)
	case "speed":
		if len(fields) != 3 {
			fmt.Println("usage: speed <index> <percent>")
			return
		}
		i, _ := strconv.Atoi(fields[1])
		p, _ := strconv.Atoi(fields[2])
		ok := c.orch.Speed(ctx, i, p)
		fmt.Println("ok:", ok)
	case "power_all":
		if len(fields) != 2 {
			fmt.Println("usage: power_all on|off")
			return
		}
		ok := c.orch.PowerAllOrchestrated(ctx, fields[1] == "on")
		fmt.Println("ok:", ok)
	case "speed_all":
		if len(fields) != 2 {
			fmt.Println("usage: speed_all <percent>")
			return
		}
		p, _ := strconv.Atoi(fields[1])
		ok := c.orch.SpeedAllOrchestrated(ctx, p)
		fmt.Println("ok:", ok)
	case "health":
		if len(fields) != 2 {
			fmt.Println("usage: health <index>")
			return
		}
		i, _ := strconv.Atoi(fields[1])
		ok := c.orch.HealthCheck(ctx, i, 2*time.Second)
		fmt.Println("ready:", ok)
	case "quit", "exit":
		os.Exit(0)
	default:
		fmt.Println("unknown command:", fields[0])
	}
}
