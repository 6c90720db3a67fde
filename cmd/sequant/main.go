// Command sequant runs the issue-driven workflow engine.
package main

func main() {
	Execute()
}
