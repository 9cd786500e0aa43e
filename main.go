// ABOUTME: Entry point for the deals exporter
// ABOUTME: Hands off to the cobra command tree in the cli package
package main

import "github.com/BLEND360/hubspot-deals-export/cli"

func main() {
	cli.Execute()
}
