// Package launch hands execution to a verified artifact set.
//
// Two strategies exist: ChildProcess spawns a new process with an assembled
// argument vector, and InProcess loads the artifacts as Go plugins and calls
// their entry point inside the launcher process. The strategy is chosen once
// per run with Select.
package launch
