// Package discovery finds OOCSI servers on the local network via mDNS.
//
// Servers announce themselves as "_oocsi._tcp" in the "local." domain. TXT
// records (key=value) are exposed as-is. A server seen on several
// interfaces is reported once with all of its addresses.
package discovery
