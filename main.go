package main

import "github.com/EO-DataHub/eodhp-heartbeat-services/cmd"

func main() {
	cmd.Execute()
}
