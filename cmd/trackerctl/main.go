// Command trackerctl is an operator CLI for the tracker control protocol
// (spec.md section 6). Its subcommand shape is grounded on the teacher's
// cmd/acp-cli, generalized from a hand-rolled os.Args switch to
// alecthomas/kingpin subcommands, matching the flag-parsing library the
// rest of the pack (prometheus-alertmanager) uses for its CLIs.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/rachitkumar205/trackerd/pkg/controlclient"
)

func main() {
	app := kingpin.New("trackerctl", "Operator CLI for the tracker control protocol.")
	timeout := app.Flag("timeout", "Request timeout.").Default("5s").Duration()

	statusCmd := app.Command("status", "Query GET_TRACKER_STATUS.")
	statusAddr := statusCmd.Arg("addr", "Tracker address, host:port.").Required().String()

	pingCmd := app.Command("ping", "Query PING_LEADER.")
	pingAddr := pingCmd.Arg("addr", "Tracker address, host:port.").Required().String()

	notifyCmd := app.Command("notify", "Send NOTIFY_NEXT_LEADER.")
	notifyAddr := notifyCmd.Arg("addr", "Tracker address to notify, host:port.").Required().String()
	notifyLeader := notifyCmd.Arg("leader", "Candidate leader address, host:port.").Required().String()

	commitCmd := app.Command("commit", "Send COMMIT_NEXT_LEADER.")
	commitAddr := commitCmd.Arg("addr", "Tracker address to commit to, host:port.").Required().String()
	commitLeader := commitCmd.Arg("leader", "Candidate leader address, host:port.").Required().String()

	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case statusCmd.FullCommand():
		c := controlclient.New(*statusAddr, *timeout)
		status, err := c.Status()
		if err != nil {
			fmt.Fprintf(os.Stderr, "status failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("if_leader: %v\n", status.IfLeader)
		fmt.Printf("running_time: %ds\n", status.RunningTime)
		fmt.Printf("restart_interval: %ds\n", status.RestartInterval)

	case pingCmd.FullCommand():
		c := controlclient.New(*pingAddr, *timeout)
		records, err := c.Ping()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ping failed: %v\n", err)
			os.Exit(1)
		}
		if len(records) == 0 {
			fmt.Println("no trunk-server assignments")
			return
		}
		for _, r := range records {
			fmt.Printf("%s -> %s\n", r.GroupName, r.TrunkServerID)
		}

	case notifyCmd.FullCommand():
		c := controlclient.New(*notifyAddr, *timeout)
		if err := c.NotifyNextLeader(*notifyLeader); err != nil {
			fmt.Fprintf(os.Stderr, "notify failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("notify accepted")

	case commitCmd.FullCommand():
		c := controlclient.New(*commitAddr, *timeout)
		if err := c.CommitNextLeader(*commitLeader); err != nil {
			fmt.Fprintf(os.Stderr, "commit failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("commit accepted")
	}
}
