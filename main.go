// Command tsf records team timesheets in CSV tables kept in a shared folder.
package main

import "github.com/Tiliavir/timesheet-fiscal/cmd"

func main() {
	cmd.Execute()
}
