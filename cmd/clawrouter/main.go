// Command clawrouter runs one agent's gateway process: message bus,
// group-chat routing, the agent loop, channel adapters, and the
// cron/admin surfaces around it.
package main

import "github.com/nextlevelbuilder/clawrouter/cmd"

func main() {
	cmd.Execute()
}
