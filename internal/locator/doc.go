// Package locator resolves cluster members to local OS processes.
//
// A Locator answers which locally reachable processes currently serve the
// members carrying a locality tag. Each result carries a Handle that can
// freeze and thaw the process. Members that run on another host have no
// local process and are simply absent from the result.
//
// The OS implementation keeps a port to pid map built from the listening
// sockets of every process named like the server binary. The map is cached
// for a short staleness window and rebuilt lazily.
package locator
