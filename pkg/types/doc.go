/*
Package types defines the data model shared by every LFSS component:
users, peer-access grants, file records, directory projections and
directory configs.

# Core Types

Identity:
  - User: a registered identity owning a username-rooted subtree
  - PeerAccess: an explicit (src, dst, level) grant between two users
  - AccessLevel: GUEST < NONE < READ < WRITE < ALL

Files:
  - FileRecord: one metadata row per file URL; copies share a blob by file id
  - ReadPermission: UNSET/PUBLIC/PROTECTED/PRIVATE, independent of AccessLevel
  - DirectoryRecord: an aggregate projection over a URL prefix — there is
    no directory row, only files whose URL happens to share a prefix
  - DirConfig: the optional `.lfssdir.json` descriptor for a directory

# Design notes

Entities reference each other by id/URL, never by pointer (a FileRecord's
owner is an int, not a *User) so that the metadata store can serialize
them directly as SQL rows without an ORM layer walking an object graph.

AccessLevel and ReadPermission are deliberately small closed integer
enums rather than open string sets — the permission engine (pkg/permission)
compares and switches over these values directly.
*/
package types
