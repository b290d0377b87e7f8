package main

import (
	"github.com/lockplane/migrun/cmd"
)

func main() {
	cmd.Execute()
}
