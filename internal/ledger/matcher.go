package ledger

// Match returns the name of the first known server whose IP equals ip.
// Comparison is exact string equality; no address normalization is applied,
// and when several servers share an IP the earliest table entry wins.
func Match(ip string, servers []KnownServer) (string, bool) {
	for _, srv := range servers {
		if srv.IP == ip {
			return srv.Name, true
		}
	}
	return "", false
}
