// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hsdaq-boot (re)starts the acquisition processes of a station.
//
// Each argument is a command line to start; by default a single
// hsdaq-srv process is started.
//
// ex:
//
//	$> hsdaq-boot -pmon -dir /var/log/hsdaq "hsdaq-srv -cfg /etc/hsdaq.yaml"
package main // import "github.com/go-lpc/hsdaq/cmd/hsdaq-boot"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

var (
	dir = os.Getenv("HSDAQ_LOGDIR")

	doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
	doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")
	doKill = flag.Bool("kill", true, "kill already running instances before starting")

	stop = make(chan os.Signal, 1)
)

func main() {
	flag.StringVar(&dir, "dir", dir, "directory of the log files (default $HSDAQ_LOGDIR or /var/log/hsdaq)")
	flag.Parse()

	log.SetPrefix("hsdaq-boot: ")
	log.SetFlags(0)

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"hsdaq-srv"}
	}

	cmds, err := commands(args)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	if *doKill {
		killall(cmds)
	}

	err = run(*doMon, *doFreq, cmds, dir, stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

// commands builds the commands to start from their command lines.
func commands(lines []string) ([]*exec.Cmd, error) {
	cmds := make([]*exec.Cmd, 0, len(lines))
	for _, line := range lines {
		args := strings.Fields(line)
		if len(args) == 0 {
			return nil, fmt.Errorf("empty command line")
		}
		cmds = append(cmds, exec.Command(args[0], args[1:]...))
	}
	return cmds, nil
}

func killall(cmds []*exec.Cmd) {
	for _, cmd := range cmds {
		name := filepath.Base(cmd.Path)
		kill := exec.Command("killall", name)
		kill.Stderr = os.Stderr
		kill.Stdout = os.Stdout
		err := kill.Run()
		if err != nil {
			log.Printf("could not kill %q: %+v", name, err)
		}
	}
}

func run(doMon bool, freq time.Duration, cmds []*exec.Cmd, dir string, stop chan os.Signal) error {
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	if dir == "" {
		dir = "/var/log/hsdaq"
	}

	var (
		grp  errgroup.Group
		kill = make(chan int)
	)
	for i := range cmds {
		cmd := cmds[i]
		grp.Go(func() error {
			return start(cmd, dir, kill, doMon, freq)
		})
	}

	go func() {
		<-stop
		close(kill)
	}()

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not boot station: %w", err)
	}
	return nil
}

func start(cmd *exec.Cmd, dir string, kill chan int, doMon bool, freq time.Duration) error {
	name := filepath.Base(cmd.Path)
	out, err := os.Create(filepath.Join(dir, name+".log"))
	if err != nil {
		return fmt.Errorf("could not create output log file for %q: %w", name, err)
	}
	defer out.Close()

	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("starting %q...", name)
	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start %q: %w", name, err)
	}

	if doMon {
		p, err := pmon.Monitor(cmd.Process.Pid)
		if err != nil {
			return fmt.Errorf("could not start monitoring %q (pid=%d): %w", name, cmd.Process.Pid, err)
		}
		f, err := os.Create(filepath.Join(dir, name+"-pmon.log"))
		if err != nil {
			return fmt.Errorf("could not create pmon log file for command %q: %w", name, err)
		}
		defer f.Close()
		p.W = f
		p.Freq = freq

		go func() {
			log.Printf("run pmon %q...", name)
			err := p.Run()
			if err != nil {
				log.Printf("could not start monitoring %q: %+v", name, err)
			}
		}()

		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring %q: %+v", name, err)
			}
		}()
	}

	errch := make(chan error, 1)
	go func() {
		errch <- cmd.Wait()
	}()

	select {
	case <-kill:
		err = cmd.Process.Signal(os.Interrupt)
		if err != nil {
			return fmt.Errorf("could not interrupt %q: %w", name, err)
		}
		select {
		case <-errch:
		case <-time.After(10 * time.Second):
			log.Printf("%q did not stop, killing it", name)
			err = cmd.Process.Kill()
			if err != nil {
				return fmt.Errorf("could not kill %q: %w", name, err)
			}
			<-errch
		}
	case err = <-errch:
		if err != nil {
			return fmt.Errorf("could not run %q: %w", name, err)
		}
	}

	return nil
}
