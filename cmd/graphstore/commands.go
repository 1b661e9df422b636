package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hupe1980/graphstore/backup"
	"github.com/hupe1980/graphstore/manifest"
	"github.com/spf13/cobra"
)

func parseVersion(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}

func formatTags(tags map[string]string) string {
	if len(tags) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + tags[k]
	}
	return strings.Join(parts, ",")
}

func formatIDs(ids []uint64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, " ")
}

func (a *app) runInit(cmd *cobra.Command, _ []string) error {
	s, err := manifest.Create(a.cfg.DB, manifest.WithDurability(a.cfg.Durability), manifest.WithLogger(a.log))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s at version %d\n", s.Dir(), s.Current().Version)
	return nil
}

func (a *app) runInfo(cmd *cobra.Command, _ []string) error {
	s, err := a.open()
	if err != nil {
		return err
	}
	m := s.Current()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "db:\t%s\n", s.Dir())
	fmt.Fprintf(w, "durability:\t%s\n", s.Durability())
	fmt.Fprintf(w, "version:\t%d\n", m.Version)
	fmt.Fprintf(w, "created:\t%s\n", time.Unix(m.CreatedAt, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "nodes:\t%d in %d segments\n", m.Stats.TotalNodes, m.Stats.NodeSegmentCount)
	fmt.Fprintf(w, "edges:\t%d in %d segments\n", m.Stats.TotalEdges, m.Stats.EdgeSegmentCount)
	fmt.Fprintf(w, "tags:\t%s\n", formatTags(m.Tags))
	fmt.Fprintf(w, "snapshots:\t%d\n", len(s.ListSnapshots("")))
	fmt.Fprintf(w, "next segment id:\t%d\n", s.Index().NextSegmentID)
	return w.Flush()
}

func (a *app) runList(cmd *cobra.Command, _ []string) error {
	s, err := a.open()
	if err != nil {
		return err
	}
	tag, _ := cmd.Flags().GetString("tag")
	current := s.Current().Version

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCREATED\tNODES\tEDGES\tTAGS")
	for _, info := range s.ListSnapshots(tag) {
		marker := ""
		if info.Version == current {
			marker = " *"
		}
		fmt.Fprintf(w, "%d%s\t%s\t%d\t%d\t%s\n",
			info.Version, marker,
			time.Unix(info.CreatedAt, 0).UTC().Format(time.RFC3339),
			info.Stats.TotalNodes, info.Stats.TotalEdges,
			formatTags(info.Tags),
		)
	}
	return w.Flush()
}

func (a *app) runShow(cmd *cobra.Command, args []string) error {
	v, err := parseVersion(args[0])
	if err != nil {
		return err
	}
	s, err := a.open()
	if err != nil {
		return err
	}
	m, err := s.LoadManifest(v)
	if err != nil {
		return err
	}
	data, err := manifest.EncodeManifest(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func (a *app) runFind(cmd *cobra.Command, args []string) error {
	s, err := a.open()
	if err != nil {
		return err
	}
	v, ok := s.FindSnapshot(args[0], args[1])
	if !ok {
		return fmt.Errorf("no snapshot tagged %s=%s", args[0], args[1])
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}

func (a *app) runTag(cmd *cobra.Command, args []string) error {
	v, err := parseVersion(args[0])
	if err != nil {
		return err
	}
	tags := make(map[string]string, len(args)-1)
	for _, kv := range args[1:] {
		k, val, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid tag %q, want key=value", kv)
		}
		tags[k] = val
	}
	s, err := a.open()
	if err != nil {
		return err
	}
	if err := s.TagSnapshot(v, tags); err != nil {
		return err
	}
	info, err := s.Snapshot(v)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d: %s\n", v, formatTags(info.Tags))
	return nil
}

func (a *app) runDiff(cmd *cobra.Command, args []string) error {
	from, err := parseVersion(args[0])
	if err != nil {
		return err
	}
	to, err := parseVersion(args[1])
	if err != nil {
		return err
	}
	s, err := a.open()
	if err != nil {
		return err
	}
	d, err := s.DiffSnapshots(from, to)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "diff:\t%d -> %d\n", d.FromVersion, d.ToVersion)
	fmt.Fprintf(w, "added node segments:\t%s\n", formatIDs(d.AddedNodeSegments))
	fmt.Fprintf(w, "removed node segments:\t%s\n", formatIDs(d.RemovedNodeSegments))
	fmt.Fprintf(w, "added edge segments:\t%s\n", formatIDs(d.AddedEdgeSegments))
	fmt.Fprintf(w, "removed edge segments:\t%s\n", formatIDs(d.RemovedEdgeSegments))
	fmt.Fprintf(w, "nodes:\t%d -> %d\n", d.StatsFrom.TotalNodes, d.StatsTo.TotalNodes)
	fmt.Fprintf(w, "edges:\t%d -> %d\n", d.StatsFrom.TotalEdges, d.StatsTo.TotalEdges)
	return w.Flush()
}

func (a *app) runDelete(cmd *cobra.Command, args []string) error {
	v, err := parseVersion(args[0])
	if err != nil {
		return err
	}
	s, err := a.open()
	if err != nil {
		return err
	}
	if err := s.DeleteSnapshot(v); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted version %d\n", v)
	return nil
}

func (a *app) runRebuildIndex(cmd *cobra.Command, _ []string) error {
	s, err := a.open()
	if err != nil {
		return err
	}
	if err := s.RebuildIndex(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "index rebuilt: %d snapshots\n", len(s.ListSnapshots("")))
	return nil
}

func (a *app) runVerify(cmd *cobra.Command, _ []string) error {
	s, err := a.open()
	if err != nil {
		return err
	}
	missing, err := s.VerifySegments()
	if err != nil {
		return err
	}
	for _, d := range missing {
		fmt.Fprintf(cmd.OutOrStdout(), "missing: segment %d (%s) %s\n", d.SegmentID, d.SegmentType, s.SegmentPath(d))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%d segments of version %d are missing", len(missing), s.Current().Version)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d: all %d segments present\n", s.Current().Version, len(s.Current().Segments()))
	return nil
}

func (a *app) runGCCollect(cmd *cobra.Command, _ []string) error {
	s, err := a.open()
	if err != nil {
		return err
	}
	moved, err := s.GCCollect()
	if err != nil {
		return err
	}
	for _, p := range moved {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "collected %d files\n", len(moved))
	return nil
}

func (a *app) runGCPurge(cmd *cobra.Command, _ []string) error {
	s, err := a.open()
	if err != nil {
		return err
	}
	n, err := s.GCPurge()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged %d files\n", n)
	return nil
}

func (a *app) runGCRestore(cmd *cobra.Command, _ []string) error {
	s, err := a.open()
	if err != nil {
		return err
	}
	restored, err := s.GCRestore()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %d files\n", len(restored))
	return nil
}

func (a *app) backupOptions() []backup.Option {
	return []backup.Option{
		backup.WithCodec(a.cfg.Backup.Codec),
		backup.WithLimits(a.cfg.Backup.Limits),
		backup.WithLogger(a.log),
		backup.WithDurability(a.cfg.Durability),
	}
}

func (a *app) runBackup(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("codec") {
		name, _ := cmd.Flags().GetString("codec")
		c, err := backup.ParseCodec(name)
		if err != nil {
			return err
		}
		a.cfg.Backup.Codec = c
	}
	v, _ := cmd.Flags().GetUint64("version")

	s, err := a.open()
	if err != nil {
		return err
	}
	remote, err := a.cfg.Backup.remote(cmd.Context())
	if err != nil {
		return err
	}
	res, err := backup.NewExporter(s, remote, a.backupOptions()...).Export(cmd.Context(), v)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported version %d: %d segments uploaded, %d already present, %d bytes\n",
		res.Catalog.Version, res.Transferred, res.Skipped, res.Bytes)
	return nil
}

func (a *app) runRestore(cmd *cobra.Command, args []string) error {
	v, _ := cmd.Flags().GetUint64("version")
	remote, err := a.cfg.Backup.remote(cmd.Context())
	if err != nil {
		return err
	}
	s, res, err := backup.Restore(cmd.Context(), remote, args[0], v, a.backupOptions()...)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored version %d into %s: %d segments, %d bytes\n",
		s.Current().Version, s.Dir(), res.Transferred, res.Bytes)
	return nil
}

func (a *app) runBackups(cmd *cobra.Command, _ []string) error {
	remote, err := a.cfg.Backup.remote(cmd.Context())
	if err != nil {
		return err
	}
	versions, err := backup.ListCatalogs(cmd.Context(), remote)
	if err != nil {
		return err
	}
	latest, err := backup.RemoteVersion(cmd.Context(), remote)
	if err != nil && len(versions) > 0 {
		return err
	}
	for _, v := range versions {
		marker := ""
		if v == latest {
			marker = " *"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d%s\n", v, marker)
	}
	return nil
}
