// Package discovery finds yuha agents on the local network with mDNS/DNS-SD.
//
// Agents listening on TCP advertise the service type _yuha._tcp in the
// local. domain. The TXT record carries:
//
//	v=1          protocol version
//	tls=0|1      whether the listener expects TLS
//
// Additional keys are ignored so later versions can extend the record.
package discovery
