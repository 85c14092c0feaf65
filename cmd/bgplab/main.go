// bgplab builds virtual BGP test topologies from declarative YAML:
// Linux bridges for segments, privileged docker containers for BGP
// speakers, and gobgpd peerings between them.
package main

import "github.com/dantte-lp/bgplab/cmd/bgplab/commands"

func main() {
	commands.Execute()
}
