package main

import "github.com/mnemo-db/mnemo/cmd"

func main() {
	cmd.Execute()
}
