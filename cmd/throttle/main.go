// Throttle is a rate-limiting gateway that admits requests against two
// sliding windows per caller and endpoint class.
//
// It sits in front of an HTTP backend, classifies each request by path
// prefix and forwards it only when both the burst and the sustained window
// have room. Window state lives in Redis (or SQLite for a single node) so
// every gateway instance shares the same counts.
//
// Usage:
//
//	# Start the gateway
//	throttle run --config /etc/throttle/config.yaml
//
//	# Check a configuration file and print the effective policies
//	throttle validate -c config.yaml
//
//	# Inspect or clear one caller's bucket
//	throttle status --identifier 203.0.113.7 --class auth
//	throttle reset --identifier 203.0.113.7 --class auth
//
//	# Change a policy on a running instance
//	throttle policy set auth --burst-limit 5 --admin-url http://127.0.0.1:9090
//
//	# Send load through a gateway
//	throttle bench --target http://127.0.0.1:8080/api/auth/login --rate 20
package main

func main() {
	Execute()
}
