package ledger

// Group collects the resolved records sharing one server label. The
// unmatched group carries an empty Server name and no IP.
type Group struct {
	Server  string   `json:"server,omitempty"`
	IP      string   `json:"ip,omitempty"`
	Records []Record `json:"records"`
}

// GroupByServer derives the grouped-by-server view from the resolved
// collection and the known-server table. Groups appear in server-table
// order, servers without records are skipped, and records that matched no
// server are gathered into a trailing unmatched group. The result is
// recomputed from scratch on every call; nothing is cached.
func GroupByServer(records []Record, servers []KnownServer) []Group {
	byName := make(map[string][]Record)
	var unmatched []Record
	for _, rec := range records {
		if rec.Matched() {
			byName[rec.ServerName] = append(byName[rec.ServerName], rec)
			continue
		}
		unmatched = append(unmatched, rec)
	}

	var groups []Group
	for _, srv := range servers {
		recs, ok := byName[srv.Name]
		if !ok {
			continue
		}
		groups = append(groups, Group{Server: srv.Name, IP: srv.IP, Records: recs})
		delete(byName, srv.Name)
	}
	// Records labeled with a server that has since been removed still group
	// under their stored name, after the live servers.
	for _, rec := range records {
		recs, ok := byName[rec.ServerName]
		if !ok {
			continue
		}
		groups = append(groups, Group{Server: rec.ServerName, Records: recs})
		delete(byName, rec.ServerName)
	}
	if len(unmatched) > 0 {
		groups = append(groups, Group{Records: unmatched})
	}
	return groups
}
